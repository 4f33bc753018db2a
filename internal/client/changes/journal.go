// Package changes is the write-ahead log of outbound changes. A record is
// added when a local change is detected and committed only once the server
// has acknowledged it, so anything uncommitted is retried by the next push.
package changes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/hcsync/hcs/internal/db"
	"github.com/hcsync/hcs/internal/proto"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_changes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    event TEXT NOT NULL, -- JSON encoded proto.ChangeEvent
    created_at TEXT NOT NULL, -- UTC, fixed width
    committed INTEGER NOT NULL DEFAULT 0,
    committed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_pending_changes_committed ON pending_changes(committed, id);
`

// fixed width so stored timestamps compare lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrJournalClosed = errors.New("change journal not open")
	ErrUnknownChange = errors.New("unknown change id")
)

// Record is one outbound change.
type Record struct {
	ID        int64
	Event     proto.ChangeEvent
	CreatedAt time.Time
	Committed bool
}

type dbRecord struct {
	ID        int64  `db:"id"`
	Event     string `db:"event"`
	CreatedAt string `db:"created_at"`
	Committed bool   `db:"committed"`
}

func (r dbRecord) decode() (Record, error) {
	var ev proto.ChangeEvent
	if err := json.Unmarshal([]byte(r.Event), &ev); err != nil {
		return Record{}, fmt.Errorf("corrupt change %d: %w", r.ID, err)
	}
	created, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("corrupt change %d timestamp: %w", r.ID, err)
	}
	return Record{ID: r.ID, Event: ev, CreatedAt: created, Committed: r.Committed}, nil
}

// Journal stores pending-change records in SQLite.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournal returns a journal backed by dbPath; ":memory:" keeps it in memory.
func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("change journal already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("failed to open change journal: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("failed to initialize change journal schema: %w", err)
	}

	j.db = conn
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrJournalClosed
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Add records ev as pending and returns its id.
func (j *Journal) Add(ctx context.Context, ev proto.ChangeEvent) (int64, error) {
	if j.db == nil {
		return 0, ErrJournalClosed
	}
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	res, err := j.db.ExecContext(ctx,
		"INSERT INTO pending_changes (kind, event, created_at) VALUES (?, ?, ?)",
		ev.Kind.String(), string(data), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to record change %s: %w", ev, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	slog.Debug("change recorded", "id", id, "event", ev.String())
	return id, nil
}

// Pending returns the uncommitted records in the order they were added.
func (j *Journal) Pending(ctx context.Context) ([]Record, error) {
	if j.db == nil {
		return nil, ErrJournalClosed
	}

	var rows []dbRecord
	err := j.db.SelectContext(ctx, &rows,
		"SELECT id, event, created_at, committed FROM pending_changes WHERE committed = 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.decode()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get returns a record by id, committed or not.
func (j *Journal) Get(ctx context.Context, id int64) (*Record, error) {
	if j.db == nil {
		return nil, ErrJournalClosed
	}

	var row dbRecord
	err := j.db.GetContext(ctx, &row, "SELECT id, event, created_at, committed FROM pending_changes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChange, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query change %d: %w", id, err)
	}
	rec, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Commit marks a record as acknowledged. Committing twice is a no-op.
func (j *Journal) Commit(ctx context.Context, id int64) error {
	if j.db == nil {
		return ErrJournalClosed
	}

	res, err := j.db.ExecContext(ctx,
		"UPDATE pending_changes SET committed = 1, committed_at = ? WHERE id = ? AND committed = 0",
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to commit change %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// either already committed or never recorded
	if _, err := j.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Count returns the number of pending records.
func (j *Journal) Count(ctx context.Context) (int, error) {
	if j.db == nil {
		return 0, ErrJournalClosed
	}
	var count int
	if err := j.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM pending_changes WHERE committed = 0"); err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return count, nil
}

// Prune deletes committed records older than cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j.db == nil {
		return 0, ErrJournalClosed
	}
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM pending_changes WHERE committed = 1 AND committed_at < ?",
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune change journal: %w", err)
	}
	return res.RowsAffected()
}
