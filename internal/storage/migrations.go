package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					entity_type TEXT NOT NULL,
					entity_id INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					description TEXT NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}', -- JSON
					severity TEXT NOT NULL DEFAULT 'info',
					actor TEXT NOT NULL DEFAULT '',
					location TEXT NOT NULL DEFAULT '',
					display_name TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
				CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
			`,
		},
		{
			Version:     "002",
			Description: "Create integrity records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS integrity_records (
					event_id TEXT PRIMARY KEY REFERENCES events(id),
					canonical_hash TEXT NOT NULL DEFAULT '',
					hash_version TEXT NOT NULL DEFAULT '',
					integrity_status TEXT NOT NULL DEFAULT 'unanchored',
					anchor_reference TEXT NOT NULL DEFAULT '',
					anchor_block INTEGER NOT NULL DEFAULT 0,
					submitted_at DATETIME,
					confirmed_at DATETIME,
					retry_count INTEGER NOT NULL DEFAULT 0,
					terminal BOOLEAN NOT NULL DEFAULT FALSE,
					last_attempt_at DATETIME,
					last_error TEXT NOT NULL DEFAULT '',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_integrity_status ON integrity_records(integrity_status);
				CREATE INDEX IF NOT EXISTS idx_integrity_last_attempt ON integrity_records(last_attempt_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					entity_type TEXT NOT NULL,
					entity_id BIGINT NOT NULL,
					event_type TEXT NOT NULL,
					timestamp TIMESTAMPTZ NOT NULL,
					description TEXT NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}',
					severity TEXT NOT NULL DEFAULT 'info',
					actor TEXT NOT NULL DEFAULT '',
					location TEXT NOT NULL DEFAULT '',
					display_name TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
				CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
			`,
		},
		{
			Version:     "002",
			Description: "Create integrity records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS integrity_records (
					event_id TEXT PRIMARY KEY REFERENCES events(id),
					canonical_hash TEXT NOT NULL DEFAULT '',
					hash_version TEXT NOT NULL DEFAULT '',
					integrity_status TEXT NOT NULL DEFAULT 'unanchored',
					anchor_reference TEXT NOT NULL DEFAULT '',
					anchor_block BIGINT NOT NULL DEFAULT 0,
					submitted_at TIMESTAMPTZ,
					confirmed_at TIMESTAMPTZ,
					retry_count INTEGER NOT NULL DEFAULT 0,
					terminal BOOLEAN NOT NULL DEFAULT FALSE,
					last_attempt_at TIMESTAMPTZ,
					last_error TEXT NOT NULL DEFAULT '',
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_integrity_status ON integrity_records(integrity_status);
				CREATE INDEX IF NOT EXISTS idx_integrity_last_attempt ON integrity_records(last_attempt_at);
			`,
		},
	}
}
