package installer

import (
	"sort"
	"sync"
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// InstallStatus is a point-in-time view of one install run
type InstallStatus struct {
	RunID       string                  `json:"run_id"`
	AppID       string                  `json:"app_id"`
	InstallRoot string                  `json:"install_root"`
	State       domain.InstallState     `json:"state"`
	Module      string                  `json:"module,omitempty"`
	Paused      bool                    `json:"paused"`
	Error       string                  `json:"error,omitempty"`
	Progress    domain.DetailedProgress `json:"progress"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
}

type trackedRun struct {
	status  InstallStatus
	session *Session
}

// Tracker keeps the sessions and latest progress of installs in this process
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*trackedRun
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*trackedRun)}
}

// Register starts tracking a run
func (t *Tracker) Register(run *domain.InstallRun, sess *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.ID] = &trackedRun{
		status: InstallStatus{
			RunID:       run.ID,
			AppID:       run.AppID,
			InstallRoot: run.InstallRoot,
			State:       run.State,
			StartedAt:   run.StartedAt,
		},
		session: sess,
	}
}

// UpdateRun copies state, module, error and finish time from run
func (t *Tracker) UpdateRun(run *domain.InstallRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.runs[run.ID]; ok {
		tr.status.State = run.State
		tr.status.Module = run.Module
		tr.status.Error = run.Error
		tr.status.FinishedAt = run.FinishedAt
	}
}

// UpdateProgress stores the latest detailed progress of a run
func (t *Tracker) UpdateProgress(runID string, p domain.DetailedProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.runs[runID]; ok {
		tr.status.Progress = p
	}
}

// Session returns the session of an unfinished run
func (t *Tracker) Session(runID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.runs[runID]
	if !ok || tr.status.State.IsTerminal() {
		return nil, false
	}
	return tr.session, true
}

// Get returns the status of a run
func (t *Tracker) Get(runID string) (InstallStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.runs[runID]
	if !ok {
		return InstallStatus{}, false
	}
	return t.snapshot(tr), true
}

// List returns all tracked runs, newest first
func (t *Tracker) List() []InstallStatus {
	t.mu.RLock()
	out := make([]InstallStatus, 0, len(t.runs))
	for _, tr := range t.runs {
		out = append(out, t.snapshot(tr))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// PruneFinished forgets runs that finished more than olderThan ago
func (t *Tracker) PruneFinished(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, tr := range t.runs {
		if f := tr.status.FinishedAt; f != nil && f.Before(cutoff) {
			delete(t.runs, id)
			n++
		}
	}
	return n
}

func (t *Tracker) snapshot(tr *trackedRun) InstallStatus {
	s := tr.status
	if tr.session != nil && !s.State.IsTerminal() {
		s.Paused = tr.session.Paused()
	}
	return s
}
