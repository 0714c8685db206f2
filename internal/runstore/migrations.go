package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    partition TEXT,
    gpu_min INTEGER NOT NULL,
    gpu_max INTEGER NOT NULL,
    time_min_sec INTEGER NOT NULL,
    time_max_sec INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    max_gpus INTEGER,
    max_time_sec INTEGER,
    gpu_confirmed BOOLEAN DEFAULT FALSE,
    time_confirmed BOOLEAN DEFAULT FALSE,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_account ON runs(account);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS trials (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    phase TEXT NOT NULL,
    seq INTEGER NOT NULL,
    gpu_count INTEGER NOT NULL,
    time_sec INTEGER NOT NULL,
    probe_id TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    submitted_at TIMESTAMP,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trials_run_id ON trials(run_id);
`
