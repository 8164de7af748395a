package store

// schemaVersionV1 is the current run-history schema.
const schemaVersionV1 = 1

const schemaV1 = `
CREATE TABLE schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE runs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	final_url   TEXT NOT NULL DEFAULT '',
	fetch_time  TEXT NOT NULL,
	scores_json TEXT NOT NULL DEFAULT '{}',
	report_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX idx_runs_url ON runs(url);
`
