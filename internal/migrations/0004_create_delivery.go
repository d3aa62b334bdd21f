package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0004, Down0004)
}

func Up0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE delivery (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    fingerprint TEXT NOT NULL UNIQUE,
    target TEXT NOT NULL,
    branch TEXT NOT NULL,
    commit_sha TEXT NOT NULL DEFAULT '',
    pull_request_url TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);`},
		statement{query: `
ALTER TABLE delivery
ADD CONSTRAINT delivery_fingerprint_fk
FOREIGN KEY (fingerprint) REFERENCES submission(fingerprint);`},
	)
}

func Down0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
ALTER TABLE delivery
DROP CONSTRAINT delivery_fingerprint_fk;`},
		statement{query: `DROP TABLE delivery;`},
	)
}
