package journal

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS realtime_messages (
	id          UUID PRIMARY KEY,
	conn_handle UUID,
	msg_type    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS realtime_messages_type_received_idx
	ON realtime_messages (msg_type, received_at);
`

const insertSQL = `
	INSERT INTO realtime_messages (id, conn_handle, msg_type, payload, received_at)
	VALUES ($1, $2, $3, $4::jsonb, $5)
	ON CONFLICT (id) DO NOTHING
`

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create realtime_messages: %w", err)
	}
	return nil
}
