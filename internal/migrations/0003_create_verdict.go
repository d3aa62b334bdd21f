package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0003, Down0003)
}

func Up0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE verdict (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    fingerprint TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    reason TEXT,
    failed_step TEXT,
    output TEXT NOT NULL DEFAULT '',
    usage JSONB NOT NULL DEFAULT '{}'::jsonb,
    attempts INTEGER NOT NULL DEFAULT 1,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    duration_millis BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);`},
		statement{query: `
ALTER TABLE verdict
ADD CONSTRAINT verdict_fingerprint_fk
FOREIGN KEY (fingerprint) REFERENCES submission(fingerprint);`},
	)
}

func Down0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
ALTER TABLE verdict
DROP CONSTRAINT verdict_fingerprint_fk;`},
		statement{query: `DROP TABLE verdict;`},
	)
}
