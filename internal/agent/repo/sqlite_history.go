package repo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	"github.com/cloudwego/eino/schema"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteHistorySchemaV1 = `
CREATE TABLE IF NOT EXISTS chat_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history (session_id, timestamp_ns, id);
`

// SQLiteHistoryRepository stores chat history in a local SQLite file.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteHistoryRepository(path string) (*SQLiteHistoryRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite history: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite history: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteHistorySchemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite history: migrate: %w", err)
	}
	return &SQLiteHistoryRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteHistoryRepository) Append(ctx context.Context, sessionID string, role schema.RoleType, content string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, role, content, timestamp_ns) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, r.now().UTC().UnixNano(),
	)
	if err != nil {
		return errx.WrapSQL(fmt.Errorf("insert history record: %w", err))
	}
	return nil
}

// ReadAll orders by timestamp, then by insertion id for records written within the same tick.
func (r *SQLiteHistoryRepository) ReadAll(ctx context.Context, sessionID string) ([]model.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role, content, timestamp_ns FROM chat_history WHERE session_id = ? ORDER BY timestamp_ns ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, errx.WrapSQL(fmt.Errorf("query history: %w", err))
	}
	defer rows.Close()

	records := []model.HistoryRecord{}
	for rows.Next() {
		var (
			role    string
			content string
			ts      int64
		)
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, errx.WrapSQL(fmt.Errorf("scan history: %w", err))
		}
		records = append(records, model.HistoryRecord{
			SessionID: sessionID,
			Role:      schema.RoleType(role),
			Content:   content,
			Timestamp: time.Unix(0, ts).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	return records, nil
}

func (r *SQLiteHistoryRepository) Close() error {
	return r.db.Close()
}

var _ model.HistoryRepository = (*SQLiteHistoryRepository)(nil)
