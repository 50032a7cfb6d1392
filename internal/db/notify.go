package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"carejournal/pkg"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  It announces new
// clinical notes on a channel and lets patient-facing streams listen for
// them.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Logger  zerolog.Logger
}

// NewNotifier constructs a new Notifier.  dsn is needed because LISTEN holds
// a dedicated connection outside the pool.
func NewNotifier(db *sql.DB, dsn, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Logger: logger}
}

// NotifyNote publishes n as a JSON payload on the channel.
func (n *Notifier) NotifyNote(ctx context.Context, note pkg.NoteNotification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	_, err = n.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, string(payload))
	return err
}

// Listen yields note notifications until ctx is cancelled.  Each call opens
// its own listener connection, closed when the returned channel closes, so
// per-client streams should go through Broadcaster.Relay.
func (n *Notifier) Listen(ctx context.Context) (<-chan pkg.NoteNotification, error) {
	listener := pq.NewListener(n.DSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Logger.Warn().Err(err).Int("event", int(ev)).Msg("notification listener event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", pq.QuoteIdentifier(n.Channel), err)
	}

	ch := make(chan pkg.NoteNotification)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					n.Logger.Warn().Err(err).Msg("notification listener ping failed")
				}
			case ev, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil event follows a reconnect.
				if ev == nil {
					continue
				}
				var note pkg.NoteNotification
				if err := json.Unmarshal([]byte(ev.Extra), &note); err != nil {
					n.Logger.Warn().Err(err).Str("payload", ev.Extra).Msg("discarding malformed notification")
					continue
				}
				select {
				case ch <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
