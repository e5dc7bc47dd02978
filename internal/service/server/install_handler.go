package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// maxManifestBytes bounds the body of POST /installs
const maxManifestBytes = 1 << 20

// Installer starts installs for the handler
type Installer interface {
	Prepare(req installer.Request) (*domain.InstallRun, error)
	InstallRun(ctx context.Context, record *domain.InstallRun, req installer.Request) (*installer.Result, error)
}

// ManifestParser turns a request body into an app
type ManifestParser interface {
	Parse(data []byte) (*domain.App, error)
}

// InstallHandler starts installs and exposes their status and controls
type InstallHandler struct {
	installer Installer
	parser    ManifestParser
	tracker   *installer.Tracker
	logger    *zap.Logger

	// ctx outlives requests; cancelling it cancels every daemon install
	ctx context.Context
	wg  sync.WaitGroup
}

// NewInstallHandler creates a new InstallHandler. Installs started through it
// are cancelled when ctx is done.
func NewInstallHandler(ctx context.Context, in Installer, parser ManifestParser, tracker *installer.Tracker, logger *zap.Logger) *InstallHandler {
	return &InstallHandler{
		installer: in,
		parser:    parser,
		tracker:   tracker,
		logger:    logger,
		ctx:       ctx,
	}
}

// Wait blocks until every install started by the handler has returned
func (h *InstallHandler) Wait() {
	h.wg.Wait()
}

// HandleList returns every tracked install, newest first
func (h *InstallHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.List())
}

// HandleGet returns the status of one install
func (h *InstallHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	status, ok := h.tracker.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Install not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleStart parses a manifest and starts installing it in the background
func (h *InstallHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	app, err := h.parser.Parse(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := installer.NewSession(h.ctx)
	req := installer.Request{App: app, Session: sess}
	record, err := h.installer.Prepare(req)
	if err != nil {
		status := http.StatusInternalServerError
		if isClientError(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	// Visible to GET /installs/{id} before the response is written
	h.tracker.Register(record, sess)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.installer.InstallRun(h.ctx, record, req); err != nil {
			h.logger.Warn("daemon install did not complete",
				zap.String("run_id", record.ID),
				zap.String("app_id", app.ID),
				zap.Error(err))
		}
	}()

	h.logger.Info("install started",
		zap.String("run_id", record.ID),
		zap.String("app_id", app.ID),
		zap.String("remote_addr", r.RemoteAddr))

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": record.ID,
		"app_id": app.ID,
	})
}

// HandleControl pauses, resumes or cancels an install
func (h *InstallHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := r.PathValue("action")

	sess, ok := h.tracker.Session(id)
	if !ok {
		if _, exists := h.tracker.Get(id); exists {
			http.Error(w, "Install already finished", http.StatusConflict)
			return
		}
		http.Error(w, "Install not found", http.StatusNotFound)
		return
	}

	switch action {
	case "pause":
		sess.Pause()
	case "resume":
		sess.Resume()
	case "cancel":
		sess.Cancel()
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}

	h.logger.Info("install control",
		zap.String("run_id", id),
		zap.String("action", action))

	status, _ := h.tracker.Get(id)
	writeJSON(w, http.StatusOK, status)
}

// isClientError reports whether err stems from a bad manifest
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNoModules)
}
