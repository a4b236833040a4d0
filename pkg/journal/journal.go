// Package journal keeps a local sqlite record of what happened in chat
// sessions: selections, messages seen and sent, failed sends and logouts.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindSelect     Kind = "select"
	KindInbound    Kind = "inbound"
	KindOutbound   Kind = "outbound"
	KindSendFailed Kind = "send_failed"
	KindLogout     Kind = "logout"
)

type Event struct {
	ID          int64     `json:"id" yaml:"id"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Kind        Kind      `json:"kind" yaml:"kind"`
	PartnerID   string    `json:"partner_id,omitempty" yaml:"partner_id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty" yaml:"sender_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty" yaml:"recipient_id,omitempty"`
	Content     string    `json:"content,omitempty" yaml:"content,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Activity is the per-partner rollup of the partner_activity view.
type Activity struct {
	PartnerID string    `json:"partner_id" yaml:"partner_id"`
	Events    int       `json:"events" yaml:"events"`
	Inbound   int       `json:"inbound" yaml:"inbound"`
	Outbound  int       `json:"outbound" yaml:"outbound"`
	Failed    int       `json:"failed" yaml:"failed"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
}

// timeLayout is fixed width so timestamps sort lexically in sqlite.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

//go:embed schema.sql
var schemaSQL string

//go:embed views.sql
var viewsSQL string

type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file (and its directory) if needed and applies the schema.
func Open(path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "create journal directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// sqlite serializes writers; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	j := &SQLiteJournal{db: db, now: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) init() error {
	if _, err := j.db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "init schema")
	}
	if _, err := j.db.Exec(viewsSQL); err != nil {
		return errors.Wrap(err, "init views")
	}
	return nil
}

func (j *SQLiteJournal) Record(ctx context.Context, ev Event) error {
	if ev.Kind == "" {
		return errors.New("empty event kind")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events(created_at, kind, partner_id, sender_id, recipient_id, content, error) VALUES(?,?,?,?,?,?,?)",
		ev.CreatedAt.UTC().Format(timeLayout), string(ev.Kind), ev.PartnerID, ev.SenderID, ev.RecipientID, ev.Content, ev.Error)
	if err != nil {
		return errors.Wrapf(err, "insert %s event", ev.Kind)
	}
	return nil
}

// List returns up to limit events, newest first. A non-empty partner restricts
// the result to that conversation. limit <= 0 means no limit.
func (j *SQLiteJournal) List(ctx context.Context, partner string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, created_at, kind, partner_id, sender_id, recipient_id, content, error FROM events WHERE (? = '' OR partner_id = ?) ORDER BY id DESC LIMIT ?",
		partner, partner, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			created string
			kind    string
		)
		if err := rows.Scan(&ev.ID, &created, &kind, &ev.PartnerID, &ev.SenderID, &ev.RecipientID, &ev.Content, &ev.Error); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Kind = Kind(kind)
		if ev.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, errors.Wrapf(err, "parse created_at of event %d", ev.ID)
		}
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "iterate events")
}

// Activity summarizes the journal per partner, most recently active first.
func (j *SQLiteJournal) Activity(ctx context.Context) ([]Activity, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT partner_id, events, inbound, outbound, failed, last_seen FROM partner_activity ORDER BY last_seen DESC")
	if err != nil {
		return nil, errors.Wrap(err, "query partner activity")
	}
	defer func() { _ = rows.Close() }()

	var out []Activity
	for rows.Next() {
		var (
			a        Activity
			lastSeen string
		)
		if err := rows.Scan(&a.PartnerID, &a.Events, &a.Inbound, &a.Outbound, &a.Failed, &lastSeen); err != nil {
			return nil, errors.Wrap(err, "scan partner activity")
		}
		if a.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
			return nil, errors.Wrapf(err, "parse last_seen of partner %s", a.PartnerID)
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate partner activity")
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }
