package event

import (
	"sync"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case InstallStateChanged:
		h.logger.Info("install state changed",
			zap.String("run_id", e.RunID),
			zap.String("app_id", e.AppID),
			zap.String("from", e.From),
			zap.String("to", e.To),
			zap.String("module_id", e.ModuleID),
		)
	case ModuleInstalled:
		h.logger.Info("module installed",
			zap.String("run_id", e.RunID),
			zap.String("app_id", e.AppID),
			zap.String("module_id", e.ModuleID),
			zap.String("install_path", e.InstallPath),
			zap.Int64("size", e.Size),
			zap.Bool("resumed", e.Resumed),
			zap.Int("attempts", e.Attempts),
		)
	case SoftFailure:
		h.logger.Warn("post-install step failed",
			zap.String("run_id", e.RunID),
			zap.String("app_id", e.AppID),
			zap.String("step", e.Step),
			zap.String("error", e.Error),
		)
	case InstallFinished:
		h.logger.Info("install finished",
			zap.String("run_id", e.RunID),
			zap.String("app_id", e.AppID),
			zap.String("state", e.State),
			zap.String("error", e.Error),
			zap.Duration("duration", e.Duration),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{allEvents}
}

// MetricsHandler collects counters from install events
type MetricsHandler struct {
	mu               sync.Mutex
	modulesInstalled int64
	bytesInstalled   int64
	resumedModules   int64
	softFailures     int64
	installsComplete int64
	installsFailed   int64
	installsCanceled int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := event.(type) {
	case ModuleInstalled:
		h.modulesInstalled++
		h.bytesInstalled += e.Size
		if e.Resumed {
			h.resumedModules++
		}
	case SoftFailure:
		h.softFailures++
	case InstallFinished:
		switch e.State {
		case "complete":
			h.installsComplete++
		case "cancelled":
			h.installsCanceled++
		default:
			h.installsFailed++
		}
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameModuleInstalled,
		NameSoftFailure,
		NameInstallFinished,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return map[string]int64{
		"modules_installed":  h.modulesInstalled,
		"bytes_installed":    h.bytesInstalled,
		"modules_resumed":    h.resumedModules,
		"soft_failures":      h.softFailures,
		"installs_complete":  h.installsComplete,
		"installs_failed":    h.installsFailed,
		"installs_cancelled": h.installsCanceled,
	}
}
