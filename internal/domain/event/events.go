package event

import (
	"time"
)

// Event names
const (
	NameInstallStateChanged = "install.state_changed"
	NameModuleInstalled     = "install.module_installed"
	NameInstallFinished     = "install.finished"
	NameSoftFailure         = "install.soft_failure"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func now() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// InstallStateChanged is raised on every install state machine transition
type InstallStateChanged struct {
	BaseEvent
	RunID    string
	AppID    string
	From     string
	To       string
	ModuleID string
}

// EventName returns the event name
func (e InstallStateChanged) EventName() string {
	return NameInstallStateChanged
}

// NewInstallStateChanged creates a new InstallStateChanged event
func NewInstallStateChanged(runID, appID, from, to, moduleID string) InstallStateChanged {
	return InstallStateChanged{
		BaseEvent: now(),
		RunID:     runID,
		AppID:     appID,
		From:      from,
		To:        to,
		ModuleID:  moduleID,
	}
}

// ModuleInstalled is raised once a module is transferred and, for archives, extracted
type ModuleInstalled struct {
	BaseEvent
	RunID       string
	AppID       string
	ModuleID    string
	InstallPath string
	Size        int64
	Resumed     bool
	Attempts    int
}

// EventName returns the event name
func (e ModuleInstalled) EventName() string {
	return NameModuleInstalled
}

// NewModuleInstalled creates a new ModuleInstalled event
func NewModuleInstalled(runID, appID, moduleID, installPath string, size int64, resumed bool, attempts int) ModuleInstalled {
	return ModuleInstalled{
		BaseEvent:   now(),
		RunID:       runID,
		AppID:       appID,
		ModuleID:    moduleID,
		InstallPath: installPath,
		Size:        size,
		Resumed:     resumed,
		Attempts:    attempts,
	}
}

// SoftFailure is raised when a post-install step fails without aborting the install
type SoftFailure struct {
	BaseEvent
	RunID string
	AppID string
	Step  string
	Error string
}

// EventName returns the event name
func (e SoftFailure) EventName() string {
	return NameSoftFailure
}

// NewSoftFailure creates a new SoftFailure event
func NewSoftFailure(runID, appID, step string, err error) SoftFailure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return SoftFailure{BaseEvent: now(), RunID: runID, AppID: appID, Step: step, Error: msg}
}

// InstallFinished is raised when a run reaches a terminal state
type InstallFinished struct {
	BaseEvent
	RunID    string
	AppID    string
	State    string
	Error    string
	Duration time.Duration
}

// EventName returns the event name
func (e InstallFinished) EventName() string {
	return NameInstallFinished
}

// NewInstallFinished creates a new InstallFinished event
func NewInstallFinished(runID, appID, state string, err error, duration time.Duration) InstallFinished {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return InstallFinished{
		BaseEvent: now(),
		RunID:     runID,
		AppID:     appID,
		State:     state,
		Error:     msg,
		Duration:  duration,
	}
}
