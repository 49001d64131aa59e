package store

import (
	"context"
	"fmt"
	"strings"
)

// The DDL is shared by both dialects: ids and timestamps are TEXT
// (timestamps as RFC 3339), booleans INTEGER, and the variant-specific item
// fields a JSON document in props.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tapestries (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	parent_id        TEXT,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	background       TEXT NOT NULL DEFAULT '',
	theme            TEXT NOT NULL DEFAULT 'light',
	start_view       TEXT,
	thumbnail        TEXT NOT NULL DEFAULT '',
	thumbnail_hosted INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_groups (
	id             TEXT PRIMARY KEY,
	tapestry_id    TEXT NOT NULL REFERENCES tapestries(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL DEFAULT '',
	color          TEXT NOT NULL DEFAULT '',
	has_border     INTEGER NOT NULL DEFAULT 0,
	has_background INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	tapestry_id TEXT NOT NULL REFERENCES tapestries(id) ON DELETE CASCADE,
	group_id    TEXT REFERENCES item_groups(id) ON DELETE SET NULL,
	position    INTEGER NOT NULL DEFAULT 0,
	type        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	props       TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rels (
	id           TEXT PRIMARY KEY,
	tapestry_id  TEXT NOT NULL REFERENCES tapestries(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL DEFAULT 0,
	from_item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	to_item_id   TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	props        TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS presentation_steps (
	id           TEXT PRIMARY KEY,
	tapestry_id  TEXT NOT NULL REFERENCES tapestries(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL DEFAULT 0,
	item_id      TEXT REFERENCES items(id) ON DELETE CASCADE,
	group_id     TEXT REFERENCES item_groups(id) ON DELETE CASCADE,
	prev_step_id TEXT REFERENCES presentation_steps(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
	owner_id    TEXT NOT NULL,
	tapestry_id TEXT NOT NULL DEFAULT '',
	parent_id   TEXT NOT NULL DEFAULT '',
	archive_key TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tapestries_owner ON tapestries(owner_id);
CREATE INDEX IF NOT EXISTS idx_items_tapestry ON items(tapestry_id);
CREATE INDEX IF NOT EXISTS idx_rels_tapestry ON rels(tapestry_id);
CREATE INDEX IF NOT EXISTS idx_groups_tapestry ON item_groups(tapestry_id);
CREATE INDEX IF NOT EXISTS idx_steps_tapestry ON presentation_steps(tapestry_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)
`

func (db *DB) applySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return nil
}
