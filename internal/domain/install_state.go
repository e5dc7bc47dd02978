package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstallState is a step of the per-app install state machine.
type InstallState string

const (
	StateIdle                   InstallState = "idle"
	StateDownloading            InstallState = "downloading"
	StateExtracting             InstallState = "extracting"
	StateInstallingDependencies InstallState = "installing_dependencies"
	StateValidatingStructure    InstallState = "validating_structure"
	StateRegisteringWithOS      InstallState = "registering_with_os"
	StateComplete               InstallState = "complete"
	StateCancelled              InstallState = "cancelled"
	StateFailed                 InstallState = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s InstallState) IsTerminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

var allowedTransitions = map[InstallState][]InstallState{
	StateIdle:                   {StateDownloading, StateInstallingDependencies},
	StateDownloading:            {StateDownloading, StateExtracting, StateInstallingDependencies},
	StateExtracting:             {StateDownloading, StateInstallingDependencies},
	StateInstallingDependencies: {StateValidatingStructure},
	StateValidatingStructure:    {StateRegisteringWithOS},
	StateRegisteringWithOS:      {StateComplete},
}

// CanTransition reports whether moving from s to next is allowed.
// Cancelled and Failed are reachable from every non-terminal state.
func (s InstallState) CanTransition(next InstallState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateCancelled || next == StateFailed {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InstallRun is one attempt at installing an app.
type InstallRun struct {
	ID          string
	AppID       string
	InstallRoot string
	State       InstallState
	Module      string
	Error       string
	StartedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewInstallRun creates a run in the idle state with a fresh id.
func NewInstallRun(app *App) *InstallRun {
	now := time.Now()
	return &InstallRun{
		ID:          uuid.NewString(),
		AppID:       app.ID,
		InstallRoot: app.InstallRoot,
		State:       StateIdle,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the run to next, recording the module being worked on.
func (r *InstallRun) Transition(next InstallState, module string) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, r.State, next)
	}
	r.State = next
	r.Module = module
	r.UpdatedAt = time.Now()
	if next.IsTerminal() {
		finished := r.UpdatedAt
		r.FinishedAt = &finished
	}
	return nil
}

// Fail moves the run to Cancelled or Failed depending on err.
func (r *InstallRun) Fail(err error) error {
	next := StateFailed
	if IsCancelled(err) {
		next = StateCancelled
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r.Transition(next, r.Module)
}
