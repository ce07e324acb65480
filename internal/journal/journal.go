// Package journal is an append-only sqlite log of operator activity: refresh
// outcomes, drafted replies and sends. Ticket state itself is never stored.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const DefaultPath = ".ticketdesk/journal.db"

type Entry struct {
	ID       string         `json:"id"`
	TS       string         `json:"ts"`
	Kind     string         `json:"kind"`
	TicketID int            `json:"ticket_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

// Open creates the parent directory if needed, opens the database and applies
// migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; the refresh job and HTTP handlers both record
	conn.SetMaxOpenConns(1)
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{DB: conn}, nil
}

func (j *Journal) Close() error { return j.DB.Close() }

// Record appends one entry. A zero ticketID is stored as NULL.
func (j *Journal) Record(ctx context.Context, kind string, ticketID int, payload map[string]any) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = j.DB.ExecContext(ctx, `INSERT INTO activity(id,ts,kind,ticket_id,payload_json) VALUES (?,?,?,?,?)`,
		uuid.NewString(), now().UTC().Format(time.RFC3339Nano), kind, nullable(ticketID), string(data))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Tail returns the n most recent entries, oldest first.
func (j *Journal) Tail(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := j.DB.QueryContext(ctx, `SELECT id,ts,kind,ticket_id,payload_json FROM activity ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ticket  sql.NullInt64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &ticket, &payload); err != nil {
			return nil, err
		}
		e.TicketID = int(ticket.Int64)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func nullable(id int) any {
	if id == 0 {
		return nil
	}
	return id
}
