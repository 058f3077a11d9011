package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ChannelJournalEvents is the LISTEN/NOTIFY channel name for journal write
// notifications. Nothing in this module calls Notify or Listen on its own:
// the write pipeline sends no notification, and readcontrol's poll loops
// wake early only when a caller supplies readcontrol.Config.Wake. A
// notification can only shorten a sleeping poll tick, never replace
// re-querying — NOTIFY delivery is not guaranteed, so a missed
// notification just means the next timer tick catches up.
const ChannelJournalEvents = "journal_events"

// Listen starts listening on channel using the dedicated notify connection.
// Returns an error if no notify connection is configured (UseCloneConnection
// was false when the backend was built).
func (p *Postgres) Listen(ctx context.Context, channel string) error {
	if p.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := p.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel, or ctx is done.
func (p *Postgres) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if p.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := p.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// Notify sends a notification on channel using the pool, independent of the
// dedicated notify connection.
func (p *Postgres) Notify(ctx context.Context, channel, payload string) error {
	_, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
