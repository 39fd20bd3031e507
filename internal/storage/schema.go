// Package storage owns the relational schema, connection pools, and the
// row-level-security session-variable plumbing that enforces tenant
// isolation. The schema is a single SQL string constant applied at startup.
package storage

// Schema creates the run, task, and run_data tables, their indexes, and the
// row-level-security policies that enforce tenant isolation. It is
// idempotent (CREATE ... IF NOT EXISTS, and DROP POLICY IF EXISTS before
// each CREATE POLICY) so it can run on every process
// start without a separate migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS run (
    id              UUID PRIMARY KEY,
    org_id          TEXT NOT NULL CHECK (char_length(org_id) <= 255),
    status          TEXT NOT NULL DEFAULT 'pending'
                        CHECK (status IN ('pending','running','completed','failed','cancelled')),
    input_data      JSONB NOT NULL,
    output_data     JSONB,
    error_data      JSONB,
    metadata        JSONB,
    total_tasks     INTEGER NOT NULL DEFAULT 0 CHECK (total_tasks >= 0),
    completed_tasks INTEGER NOT NULL DEFAULT 0 CHECK (completed_tasks >= 0),
    failed_tasks    INTEGER NOT NULL DEFAULT 0 CHECK (failed_tasks >= 0),
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL,
    started_at      BIGINT,
    completed_at    BIGINT,
    duration_ms     BIGINT,
    CHECK (completed_tasks + failed_tasks <= total_tasks)
);

CREATE INDEX IF NOT EXISTS idx_run_org_created ON run (org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_status ON run (status);
CREATE INDEX IF NOT EXISTS idx_run_created ON run (created_at DESC);

ALTER TABLE run ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS run_tenant_isolation ON run;
CREATE POLICY run_tenant_isolation ON run
    USING (org_id = current_setting('app.current_org_id', true))
    WITH CHECK (org_id = current_setting('app.current_org_id', true));

CREATE TABLE IF NOT EXISTS task (
    id              UUID PRIMARY KEY,
    org_id          TEXT NOT NULL CHECK (char_length(org_id) <= 255),
    run_id          UUID NOT NULL REFERENCES run(id) ON DELETE CASCADE,
    parent_task_id  UUID REFERENCES task(id) ON DELETE CASCADE,
    type            TEXT NOT NULL CHECK (char_length(type) BETWEEN 1 AND 255),
    status          TEXT NOT NULL DEFAULT 'pending'
                        CHECK (status IN ('pending','queued','running','completed','failed','cancelled','retrying')),
    input_data      JSONB NOT NULL,
    output_data     JSONB,
    error_data      JSONB,
    metadata        JSONB,
    retry_count     INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0),
    max_retries     INTEGER NOT NULL DEFAULT 3 CHECK (max_retries BETWEEN 0 AND 10),
    queue_job_id    TEXT,
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL,
    queued_at       BIGINT,
    started_at      BIGINT,
    completed_at    BIGINT,
    duration_ms     BIGINT
);

CREATE INDEX IF NOT EXISTS idx_task_run ON task (run_id);
CREATE INDEX IF NOT EXISTS idx_task_parent ON task (parent_task_id);
CREATE INDEX IF NOT EXISTS idx_task_org_created ON task (org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_status ON task (status);
CREATE INDEX IF NOT EXISTS idx_task_type ON task (type);
CREATE INDEX IF NOT EXISTS idx_task_queue_job ON task (queue_job_id);

ALTER TABLE task ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS task_tenant_isolation ON task;
CREATE POLICY task_tenant_isolation ON task
    USING (org_id = current_setting('app.current_org_id', true))
    WITH CHECK (org_id = current_setting('app.current_org_id', true));

CREATE TABLE IF NOT EXISTS run_data (
    id          UUID PRIMARY KEY,
    org_id      TEXT NOT NULL CHECK (char_length(org_id) <= 255),
    run_id      UUID NOT NULL REFERENCES run(id) ON DELETE CASCADE,
    task_id     UUID NOT NULL REFERENCES task(id) ON DELETE CASCADE,
    key         TEXT NOT NULL CHECK (char_length(key) BETWEEN 1 AND 255),
    value       JSONB NOT NULL,
    metadata    JSONB,
    tags        TEXT[] NOT NULL DEFAULT '{}',
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_data_run ON run_data (run_id);
CREATE INDEX IF NOT EXISTS idx_run_data_task ON run_data (task_id);
CREATE INDEX IF NOT EXISTS idx_run_data_org ON run_data (org_id);
CREATE INDEX IF NOT EXISTS idx_run_data_key ON run_data (key);
CREATE INDEX IF NOT EXISTS idx_run_data_run_created ON run_data (run_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_data_tags ON run_data USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_run_data_key_prefix ON run_data (key text_pattern_ops);

ALTER TABLE run_data ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS run_data_tenant_isolation ON run_data;
CREATE POLICY run_data_tenant_isolation ON run_data
    USING (org_id = current_setting('app.current_org_id', true))
    WITH CHECK (org_id = current_setting('app.current_org_id', true));
`

// GrantRootBypass is run once against a superuser connection (outside the
// pool Foreman itself holds) to give the unrestricted_user role the
// BYPASSRLS attribute. It is not executed by Foreman at runtime — granting
// role attributes is operator/migration territory — but is kept here as the
// authoritative statement of the required grant.
const GrantRootBypass = `ALTER ROLE unrestricted_user BYPASSRLS;`
