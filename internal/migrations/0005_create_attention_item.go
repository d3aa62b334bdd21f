package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0005, Down0005)
}

func Up0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE attention_item (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    fingerprint TEXT,
    message_id TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL,
    detail TEXT NOT NULL,
    resolved BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);`},
		statement{query: `
CREATE INDEX attention_item_resolved_index ON attention_item (resolved);`},
	)
}

func Down0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP INDEX attention_item_resolved_index;`},
		statement{query: `DROP TABLE attention_item;`},
	)
}
