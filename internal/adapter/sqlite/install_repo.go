package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
)

const runColumns = `id, app_id, install_root, state, module, last_error, started_at, updated_at, finished_at`

// CreateRun records a new install run
func (s *Store) CreateRun(run *domain.InstallRun) error {
	query := `INSERT INTO install_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query,
		run.ID, run.AppID, run.InstallRoot, string(run.State), run.Module, run.Error,
		run.StartedAt.UTC(), run.UpdatedAt.UTC(), nullTime(run.FinishedAt))
	return err
}

// UpdateRun stores the current state of a run
func (s *Store) UpdateRun(run *domain.InstallRun) error {
	query := `
		UPDATE install_runs
		SET state = ?, module = ?, last_error = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := s.db.Exec(query,
		string(run.State), run.Module, run.Error, run.UpdatedAt.UTC(), nullTime(run.FinishedAt), run.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by id
func (s *Store) GetRun(id string) (*domain.InstallRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM install_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(limit int) ([]*domain.InstallRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM install_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.InstallRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ActiveRoots returns the install roots of unfinished runs
func (s *Store) ActiveRoots() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT install_root FROM install_runs WHERE finished_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roots []string
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, rows.Err()
}

// CleanupOldRuns deletes finished runs older than the given age
func (s *Store) CleanupOldRuns(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.Exec(`DELETE FROM install_runs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// MarkModuleDownloaded records that a module reached its final location
func (s *Store) MarkModuleDownloaded(appID, moduleID, installPath string) error {
	query := `
		INSERT INTO installed_modules (app_id, module_id, install_path, downloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(app_id, module_id) DO UPDATE SET
			install_path = excluded.install_path,
			downloaded_at = excluded.downloaded_at
	`
	_, err := s.db.Exec(query, appID, moduleID, installPath, time.Now().UTC())
	return err
}

// DownloadedModules returns module id -> install path for an app
func (s *Store) DownloadedModules(appID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT module_id, install_path FROM installed_modules WHERE app_id = ?`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	modules := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		modules[id] = path
	}
	return modules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.InstallRun, error) {
	run := &domain.InstallRun{}
	var state string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.AppID, &run.InstallRoot, &state, &run.Module, &run.Error,
		&run.StartedAt, &run.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.State = domain.InstallState(state)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
