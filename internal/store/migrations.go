package store

import (
	"database/sql"

	"github.com/colliery-io/brokkr/internal/store/migrate"
)

// Migrations returns the ordered set of schema migrations for the whole
// Brokkr data model (spec.md §3), one version per logically-grouped set of
// tables. Grounded on the teacher's CREATE TABLE IF NOT EXISTS style
// (internal/controlplane/jobs/store.go, internal/controlplane/fleet/store.go)
// generalized to Postgres: TIMESTAMPTZ instead of TEXT timestamps, real
// UUID/JSONB columns instead of SQLite's dynamic typing, and partial
// indexes on soft-delete columns.
func Migrations() []migrate.Migration {
	return []migrate.Migration{
		{Version: 1, Description: "agents and generators", Up: upCorePrincipals, Down: downCorePrincipals},
		{Version: 2, Description: "stacks and label/annotation tables", Up: upStacks, Down: downStacks},
		{Version: 3, Description: "agent targets and deployment objects", Up: upDeployment, Down: downDeployment},
		{Version: 4, Description: "work queue tables", Up: upWorkQueue, Down: downWorkQueue},
		{Version: 5, Description: "webhook subscriptions and deliveries", Up: upWebhooks, Down: downWebhooks},
		{Version: 6, Description: "templates", Up: upTemplates, Down: downTemplates},
	}
}

func upCorePrincipals(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id               UUID PRIMARY KEY,
			name             TEXT NOT NULL,
			cluster_name     TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'registered',
			last_heartbeat_at TIMESTAMPTZ,
			pak_hash         TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			deleted_at       TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name_live ON agents(name) WHERE deleted_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_pak_hash_live ON agents(pak_hash) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS generators (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			pak_hash    TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_generators_pak_hash_live ON generators(pak_hash) WHERE deleted_at IS NULL`,
	}
	return execAll(tx, stmts)
}

func downCorePrincipals(tx *sql.Tx) error {
	return execAll(tx, []string{`DROP TABLE IF EXISTS generators`, `DROP TABLE IF EXISTS agents`})
}

func upStacks(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stacks (
			id                  UUID PRIMARY KEY,
			name                TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			owning_generator_id UUID REFERENCES generators(id),
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL,
			deleted_at          TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stacks_name_live ON stacks(name) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS entity_labels (
			id         UUID PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id  UUID NOT NULL,
			label      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_labels_unique ON entity_labels(entity_type, entity_id, label)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_labels_lookup ON entity_labels(entity_type, label)`,
		`CREATE TABLE IF NOT EXISTS entity_annotations (
			id         UUID PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id  UUID NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_annotations_unique ON entity_annotations(entity_type, entity_id, key)`,
	}
	return execAll(tx, stmts)
}

func downStacks(tx *sql.Tx) error {
	return execAll(tx, []string{
		`DROP TABLE IF EXISTS entity_annotations`,
		`DROP TABLE IF EXISTS entity_labels`,
		`DROP TABLE IF EXISTS stacks`,
	})
}

func upDeployment(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_targets (
			agent_id   UUID NOT NULL REFERENCES agents(id),
			stack_id   UUID NOT NULL REFERENCES stacks(id),
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (agent_id, stack_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_targets_stack ON agent_targets(stack_id)`,
		`CREATE TABLE IF NOT EXISTS deployment_objects (
			id                UUID PRIMARY KEY,
			stack_id          UUID NOT NULL REFERENCES stacks(id),
			sequence_id       INTEGER NOT NULL,
			yaml_content      TEXT NOT NULL,
			yaml_checksum     TEXT NOT NULL,
			is_deletion_marker BOOLEAN NOT NULL DEFAULT false,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			deleted_at        TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_deployment_objects_sequence ON deployment_objects(stack_id, sequence_id)`,
		`CREATE TABLE IF NOT EXISTS deployment_object_applications (
			deployment_object_id UUID NOT NULL REFERENCES deployment_objects(id),
			agent_id             UUID NOT NULL REFERENCES agents(id),
			status               TEXT NOT NULL,
			applied_at           TIMESTAMPTZ,
			error_detail         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (deployment_object_id, agent_id)
		)`,
	}
	return execAll(tx, stmts)
}

func downDeployment(tx *sql.Tx) error {
	return execAll(tx, []string{
		`DROP TABLE IF EXISTS deployment_object_applications`,
		`DROP TABLE IF EXISTS deployment_objects`,
		`DROP TABLE IF EXISTS agent_targets`,
	})
}

func upWorkQueue(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_orders (
			id                   UUID PRIMARY KEY,
			work_type            TEXT NOT NULL,
			yaml_content         TEXT NOT NULL,
			status               TEXT NOT NULL DEFAULT 'pending',
			claimed_by           UUID REFERENCES agents(id),
			claimed_at           TIMESTAMPTZ,
			claim_timeout_seconds INTEGER NOT NULL DEFAULT 300,
			retry_count          INTEGER NOT NULL DEFAULT 0,
			max_retries          INTEGER NOT NULL DEFAULT 3,
			backoff_seconds      INTEGER NOT NULL DEFAULT 5,
			next_retry_after     TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_claimed_at ON work_orders(claimed_at) WHERE status = 'claimed'`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_next_retry ON work_orders(next_retry_after) WHERE status = 'retry_pending'`,
		`CREATE TABLE IF NOT EXISTS work_order_targets (
			work_order_id UUID NOT NULL REFERENCES work_orders(id),
			agent_id      UUID NOT NULL REFERENCES agents(id),
			PRIMARY KEY (work_order_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_order_targets_agent ON work_order_targets(agent_id)`,
		`CREATE TABLE IF NOT EXISTS work_order_log (
			id               UUID PRIMARY KEY,
			work_type        TEXT NOT NULL,
			yaml_content     TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			claimed_at       TIMESTAMPTZ,
			completed_at     TIMESTAMPTZ NOT NULL,
			claimed_by       UUID,
			success          BOOLEAN NOT NULL,
			retries_attempted INTEGER NOT NULL DEFAULT 0,
			result_message   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_order_log_completed_at ON work_order_log(completed_at)`,
	}
	return execAll(tx, stmts)
}

func downWorkQueue(tx *sql.Tx) error {
	return execAll(tx, []string{
		`DROP TABLE IF EXISTS work_order_log`,
		`DROP TABLE IF EXISTS work_order_targets`,
		`DROP TABLE IF EXISTS work_orders`,
	})
}

func upWebhooks(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id                  UUID PRIMARY KEY,
			name                TEXT NOT NULL,
			url_ciphertext      BYTEA NOT NULL,
			auth_header_ciphertext BYTEA,
			event_patterns      TEXT[] NOT NULL,
			filter_agent_id     UUID,
			filter_stack_id     UUID,
			filter_labels       JSONB,
			target_labels       TEXT[],
			enabled             BOOLEAN NOT NULL DEFAULT true,
			max_retries         INTEGER NOT NULL DEFAULT 5,
			timeout_seconds     INTEGER NOT NULL DEFAULT 10,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL,
			deleted_at          TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id              UUID PRIMARY KEY,
			subscription_id UUID NOT NULL REFERENCES webhook_subscriptions(id),
			event_type      TEXT NOT NULL,
			event_id        UUID NOT NULL,
			payload         JSONB NOT NULL,
			target_labels   TEXT[],
			status          TEXT NOT NULL DEFAULT 'pending',
			acquired_by     TEXT,
			acquired_until  TIMESTAMPTZ,
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMPTZ,
			next_retry_at   TIMESTAMPTZ,
			last_error      TEXT NOT NULL DEFAULT '',
			completed_at    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_claimable ON webhook_deliveries(status, next_retry_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_acquired ON webhook_deliveries(acquired_until) WHERE status = 'acquired'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_deliveries_event_id ON webhook_deliveries(subscription_id, event_id)`,
	}
	return execAll(tx, stmts)
}

func downWebhooks(tx *sql.Tx) error {
	return execAll(tx, []string{
		`DROP TABLE IF EXISTS webhook_deliveries`,
		`DROP TABLE IF EXISTS webhook_subscriptions`,
	})
}

func upTemplates(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			id              UUID PRIMARY KEY,
			name            TEXT NOT NULL,
			version         INTEGER NOT NULL,
			text_content    TEXT NOT NULL,
			param_schema    JSONB NOT NULL,
			required_labels TEXT[] NOT NULL DEFAULT '{}',
			created_at      TIMESTAMPTZ NOT NULL,
			deleted_at      TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_name_version ON templates(name, version)`,
	}
	return execAll(tx, stmts)
}

func downTemplates(tx *sql.Tx) error {
	return execAll(tx, []string{`DROP TABLE IF EXISTS templates`})
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
