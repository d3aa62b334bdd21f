package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0002, Down0002)
}

func Up0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE submission (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    fingerprint TEXT NOT NULL UNIQUE,
    student_id TEXT NOT NULL,
    student_name TEXT NOT NULL,
    student_email TEXT NOT NULL,
    assignment_id TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    archive_key TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'received',
    message_id TEXT NOT NULL DEFAULT '',
    payload_bytes BIGINT NOT NULL DEFAULT 0,
    file_count INTEGER NOT NULL DEFAULT 0,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);`},
		statement{query: `
CREATE INDEX submission_state_index ON submission (state);`},
		statement{query: `
CREATE INDEX submission_student_id_index ON submission (student_id);`},
	)
}

func Down0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP INDEX submission_student_id_index;`},
		statement{query: `DROP INDEX submission_state_index;`},
		statement{query: `DROP TABLE submission;`},
	)
}
