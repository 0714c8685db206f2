// Package runstore provides SQLite-backed persistence of search runs and
// their probe trials.
package runstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/osctools/gpuscout/internal/domain"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	StatusRunning    RunStatus = "running"
	StatusFinished   RunStatus = "finished"
	StatusDegenerate RunStatus = "degenerate"
	StatusAborted    RunStatus = "aborted"
)

// Run is one recorded search run.
type Run struct {
	ID         string
	Bounds     domain.SearchBounds
	Status     RunStatus
	Error      string
	Result     *domain.SearchResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a new run in the running state.
func (s *Store) Begin(id string, bounds domain.SearchBounds, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, account, partition, gpu_min, gpu_max, time_min_sec, time_max_sec, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		bounds.Account,
		bounds.Partition,
		bounds.GPUMin,
		bounds.GPUMax,
		int(bounds.TimeMin/time.Second),
		int(bounds.TimeMax/time.Second),
		string(StatusRunning),
		startedAt,
	)
	return err
}

// Finish marks a run complete and records its result and traces.
func (s *Store) Finish(id string, status RunStatus, errMsg string, res *domain.SearchResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxGPUs, maxTimeSec int
	var gpuOK, timeOK bool
	finishedAt := time.Now()
	if res != nil {
		maxGPUs = res.MaxAdmittedGPUs
		maxTimeSec = int(res.MaxAdmittedTime / time.Second)
		gpuOK = res.GPUConfirmed
		timeOK = res.TimeConfirmed
		finishedAt = res.FinishedAt
	}

	_, err = tx.Exec(`
		UPDATE runs SET status = ?, error = ?, max_gpus = ?, max_time_sec = ?,
			gpu_confirmed = ?, time_confirmed = ?, finished_at = ?
		WHERE id = ?
	`, string(status), errMsg, maxGPUs, maxTimeSec, gpuOK, timeOK, finishedAt, id)
	if err != nil {
		return err
	}

	if res != nil {
		if err := insertTrials(tx, id, domain.PhaseGPU, res.GPUTrace); err != nil {
			return err
		}
		if err := insertTrials(tx, id, domain.PhaseTime, res.TimeTrace); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertTrials(tx *sql.Tx, runID string, phase domain.ProbePhase, trace domain.SearchTrace) error {
	for i, trial := range trace {
		_, err := tx.Exec(`
			INSERT INTO trials (run_id, phase, seq, gpu_count, time_sec, probe_id, outcome, detail, submitted_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			runID,
			string(phase),
			i,
			trial.Spec.GPUCount,
			int(trial.Spec.TimeWindow/time.Second),
			trial.ProbeID,
			trial.Outcome.String(),
			trial.Detail,
			trial.SubmittedAt,
			trial.ResolvedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetRun retrieves a run and its trials by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, account, partition, gpu_min, gpu_max, time_min_sec, time_max_sec,
			status, error, max_gpus, max_time_sec, gpu_confirmed, time_confirmed,
			started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT phase, gpu_count, time_sec, probe_id, outcome, detail, submitted_at, resolved_at
		FROM trials WHERE run_id = ? ORDER BY phase, seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var phase, probeID, outcome, detail string
		var gpus, timeSec int
		var submitted, resolved sql.NullTime
		if err := rows.Scan(&phase, &gpus, &timeSec, &probeID, &outcome, &detail, &submitted, &resolved); err != nil {
			return nil, err
		}
		trial := domain.Trial{
			Spec: domain.ProbeSpec{
				GPUCount:   gpus,
				TimeWindow: time.Duration(timeSec) * time.Second,
				Phase:      domain.ProbePhase(phase),
			},
			ProbeID:     probeID,
			Outcome:     parseOutcome(outcome),
			Detail:      detail,
			SubmittedAt: submitted.Time,
			ResolvedAt:  resolved.Time,
		}
		if run.Result == nil {
			run.Result = &domain.SearchResult{}
		}
		if domain.ProbePhase(phase) == domain.PhaseGPU {
			run.Result.GPUTrace = append(run.Result.GPUTrace, trial)
		} else {
			run.Result.TimeTrace = append(run.Result.TimeTrace, trial)
		}
	}
	return run, rows.Err()
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Account string
	Status  RunStatus
	Limit   int
}

// ListRuns returns runs matching the given options, newest first. Trials
// are not loaded; use GetRun for the full trace.
func (s *Store) ListRuns(opts ListOptions) ([]*Run, error) {
	query := `SELECT id, account, partition, gpu_min, gpu_max, time_min_sec, time_max_sec,
		status, error, max_gpus, max_time_sec, gpu_confirmed, time_confirmed,
		started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Account != "" {
		query += " AND account = ?"
		args = append(args, opts.Account)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var partition, errMsg sql.NullString
	var timeMinSec, timeMaxSec int
	var maxGPUs, maxTimeSec sql.NullInt64
	var gpuOK, timeOK bool
	var started, finished sql.NullTime

	err := row.Scan(&run.ID, &run.Bounds.Account, &partition,
		&run.Bounds.GPUMin, &run.Bounds.GPUMax, &timeMinSec, &timeMaxSec,
		&run.Status, &errMsg, &maxGPUs, &maxTimeSec, &gpuOK, &timeOK,
		&started, &finished)
	if err != nil {
		return nil, err
	}

	run.Bounds.Partition = partition.String
	run.Bounds.TimeMin = time.Duration(timeMinSec) * time.Second
	run.Bounds.TimeMax = time.Duration(timeMaxSec) * time.Second
	run.Error = errMsg.String
	run.StartedAt = started.Time
	run.FinishedAt = finished.Time

	if run.Status != StatusRunning {
		run.Result = &domain.SearchResult{
			MaxAdmittedGPUs: int(maxGPUs.Int64),
			MaxAdmittedTime: time.Duration(maxTimeSec.Int64) * time.Second,
			GPUConfirmed:    gpuOK,
			TimeConfirmed:   timeOK,
			StartedAt:       started.Time,
			FinishedAt:      finished.Time,
		}
	}
	return &run, nil
}

func parseOutcome(s string) domain.ProbeOutcome {
	switch s {
	case "admitted":
		return domain.OutcomeAdmitted
	case "pending-timeout":
		return domain.OutcomePendingTimeout
	case "rejected":
		return domain.OutcomeRejected
	default:
		return domain.OutcomeError
	}
}
