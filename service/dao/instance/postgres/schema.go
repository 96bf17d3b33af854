package postgres

// DefaultTable is the table used when no WithTable option is supplied.
const DefaultTable = "approval_instances"

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	node_execution_id TEXT NOT NULL,
	deadline          TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	last_modified_at  TIMESTAMPTZ NOT NULL,
	activities        JSONB NOT NULL DEFAULT '[]'::jsonb,
	approver_spec     JSONB,
	details           JSONB,
	version           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_status_deadline_idx ON %[1]s (status, deadline);
CREATE INDEX IF NOT EXISTS %[1]s_node_execution_idx ON %[1]s (node_execution_id);
`

const columns = `id, type, status, node_execution_id, deadline, created_at, last_modified_at, activities, approver_spec, details, version`
