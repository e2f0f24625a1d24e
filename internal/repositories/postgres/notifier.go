package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/WebHare/platform-sub003/internal/repositories"
)

// ChangeChannel is the LISTEN/NOTIFY channel entity changes are announced on
const ChangeChannel = "wrd_entities_changed"

// maxPayload stays below the 8000 byte NOTIFY payload limit
const maxPayload = 7900

type notificationPayload struct {
	Schema        string            `json:"schema"`
	Created       map[int64][]int64 `json:"created,omitempty"`
	Updated       map[int64][]int64 `json:"updated,omitempty"`
	Deleted       map[int64][]int64 `json:"deleted,omitempty"`
	Types         []int64           `json:"types,omitempty"`
	SchemaChanged bool              `json:"schemaChanged,omitempty"`
	At            time.Time         `json:"at"`
}

// PostgresNotifier announces committed changes with pg_notify
type PostgresNotifier struct {
	db querier
}

// NewPostgresNotifier creates a new PostgreSQL notifier
func NewPostgresNotifier(db querier) *PostgresNotifier {
	return &PostgresNotifier{db: db}
}

// Notify sends n on ChangeChannel. When the id lists do not fit in one payload
// only the affected type ids are sent.
func (p *PostgresNotifier) Notify(ctx context.Context, n *repositories.Notification) error {
	if n.IsEmpty() {
		return nil
	}
	payload, err := encodeNotification(n)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, payload); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func encodeNotification(n *repositories.Notification) (string, error) {
	full := notificationPayload{
		Schema:        n.Schema,
		Created:       n.Created,
		Updated:       n.Updated,
		Deleted:       n.Deleted,
		SchemaChanged: n.SchemaChanged,
		At:            n.At,
	}
	b, err := json.Marshal(full)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification: %w", err)
	}
	if len(b) <= maxPayload {
		return string(b), nil
	}

	short := notificationPayload{Schema: n.Schema, SchemaChanged: n.SchemaChanged, At: n.At}
	seen := make(map[int64]bool)
	for _, m := range []map[int64][]int64{n.Created, n.Updated, n.Deleted} {
		for typ := range m {
			if !seen[typ] {
				seen[typ] = true
				short.Types = append(short.Types, typ)
			}
		}
	}
	slices.Sort(short.Types)
	b, err = json.Marshal(short)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification: %w", err)
	}
	return string(b), nil
}

// DecodeNotification parses a ChangeChannel payload. A truncated payload comes
// back with an empty id list per affected type and truncated set.
func DecodeNotification(payload string) (n *repositories.Notification, truncated bool, err error) {
	var p notificationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode notification: %w", err)
	}
	n = &repositories.Notification{
		Schema:        p.Schema,
		Created:       p.Created,
		Updated:       p.Updated,
		Deleted:       p.Deleted,
		SchemaChanged: p.SchemaChanged,
		At:            p.At,
	}
	if len(p.Types) > 0 {
		n.Updated = make(map[int64][]int64, len(p.Types))
		for _, typ := range p.Types {
			n.Updated[typ] = nil
		}
		truncated = true
	}
	return n, truncated, nil
}
