package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements TurnStore using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writers *KeyLock
	retry   shared.RetryPolicy
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed turn store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps readers off the writer's back.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		writers: NewKeyLock(),
		retry:   shared.DefaultRetryPolicy,
		now:     time.Now,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_histories (
		scenario_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		messages_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scenario_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_histories_updated ON conversation_histories(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load returns the history for key, creating an empty row on first use.
func (s *SQLiteStore) Load(ctx context.Context, key domain.ConversationKey) (*domain.History, bool, error) {
	unlock := s.writers.Lock(key)
	defer unlock()

	var created bool
	err := shared.RetryOnConflict(ctx, s.retry, "load", func() error {
		now := s.now().UnixMilli()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO conversation_histories (scenario_id, student_id, messages_json, created_at, updated_at)
			VALUES (?, ?, '[]', ?, ?)
			ON CONFLICT(scenario_id, student_id) DO NOTHING`,
			key.ScenarioID, key.StudentID, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		created = rows == 1
		return nil
	})
	if err != nil {
		return nil, false, persistErr("load", key, err)
	}

	h, err := s.selectHistory(ctx, s.db, key)
	if err != nil {
		return nil, false, persistErr("load", key, err)
	}
	if created {
		slog.Info("Conversation history created", "scenario_id", key.ScenarioID, "student_id", key.StudentID)
	}
	return h, created, nil
}

// Get returns the history for key without creating it.
func (s *SQLiteStore) Get(ctx context.Context, key domain.ConversationKey) (*domain.History, error) {
	h, err := s.selectHistory(ctx, s.db, key)
	if err != nil {
		return nil, persistErr("get", key, err)
	}
	return h, nil
}

// Append adds turns to the end of the history inside one transaction.
func (s *SQLiteStore) Append(ctx context.Context, key domain.ConversationKey, turns ...domain.Turn) (*domain.History, error) {
	unlock := s.writers.Lock(key)
	defer unlock()

	var out *domain.History
	err := shared.RetryOnConflict(ctx, s.retry, "append", func() error {
		h, err := s.appendOnce(ctx, key, turns)
		if err != nil {
			return err
		}
		out = h
		return nil
	})
	if err != nil {
		return nil, persistErr("append", key, err)
	}
	return out, nil
}

func (s *SQLiteStore) appendOnce(ctx context.Context, key domain.ConversationKey, turns []domain.Turn) (*domain.History, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	h, err := s.selectHistory(ctx, tx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		h = &domain.History{Key: key, CreatedAt: now}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_histories (scenario_id, student_id, messages_json, created_at, updated_at)
			VALUES (?, ?, '[]', ?, ?)`,
			key.ScenarioID, key.StudentID, now.UnixMilli(), now.UnixMilli(),
		); err != nil {
			return nil, fmt.Errorf("insert history: %w", err)
		}
	case err != nil:
		return nil, err
	}

	h.Turns = append(h.Turns, turns...)
	h.UpdatedAt = now
	if err := s.writeTurns(ctx, tx, key, h.Turns, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return h, nil
}

// Replace overwrites the stored turns for key, creating the row if needed.
func (s *SQLiteStore) Replace(ctx context.Context, key domain.ConversationKey, turns []domain.Turn) error {
	unlock := s.writers.Lock(key)
	defer unlock()

	data, err := json.Marshal(nonNil(turns))
	if err != nil {
		return persistErr("replace", key, fmt.Errorf("marshal turns: %w", err))
	}
	err = shared.RetryOnConflict(ctx, s.retry, "replace", func() error {
		now := s.now().UnixMilli()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversation_histories (scenario_id, student_id, messages_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(scenario_id, student_id) DO UPDATE SET
				messages_json = excluded.messages_json,
				updated_at = excluded.updated_at`,
			key.ScenarioID, key.StudentID, string(data), now, now,
		)
		if err != nil {
			return fmt.Errorf("replace history: %w", err)
		}
		return nil
	})
	return persistErr("replace", key, err)
}

// List summarizes every stored conversation for a scenario, ordered by student id.
func (s *SQLiteStore) List(ctx context.Context, scenarioID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, json_array_length(messages_json), created_at, updated_at
		FROM conversation_histories WHERE scenario_id = ? ORDER BY student_id`, scenarioID)
	if err != nil {
		return nil, persistErr("list", domain.ConversationKey{ScenarioID: scenarioID}, fmt.Errorf("query histories: %w", err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.StudentID, &sum.TurnCount, &createdAt, &updatedAt); err != nil {
			return nil, persistErr("list", domain.ConversationKey{ScenarioID: scenarioID}, fmt.Errorf("scan history row: %w", err))
		}
		sum.Key = domain.ConversationKey{ScenarioID: scenarioID, StudentID: sum.StudentID}
		sum.CreatedAt = time.UnixMilli(createdAt)
		sum.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", domain.ConversationKey{ScenarioID: scenarioID}, fmt.Errorf("iterate histories: %w", err))
	}
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) selectHistory(ctx context.Context, q queryer, key domain.ConversationKey) (*domain.History, error) {
	row := q.QueryRowContext(ctx, `
		SELECT messages_json, created_at, updated_at
		FROM conversation_histories WHERE scenario_id = ? AND student_id = ?`,
		key.ScenarioID, key.StudentID)

	var messagesJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&messagesJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan history row: %w", err)
	}

	turns := []domain.Turn{}
	if err := json.Unmarshal([]byte(messagesJSON), &turns); err != nil {
		return nil, fmt.Errorf("decode messages_json: %w", err)
	}
	return &domain.History{
		Key:       key,
		Turns:     turns,
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

func (s *SQLiteStore) writeTurns(ctx context.Context, tx *sql.Tx, key domain.ConversationKey, turns []domain.Turn, now time.Time) error {
	data, err := json.Marshal(nonNil(turns))
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE conversation_histories SET messages_json = ?, updated_at = ?
		WHERE scenario_id = ? AND student_id = ?`,
		string(data), now.UnixMilli(), key.ScenarioID, key.StudentID)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update history: no row for %s", key)
	}
	return nil
}

func nonNil(turns []domain.Turn) []domain.Turn {
	if turns == nil {
		return []domain.Turn{}
	}
	return turns
}

var _ TurnStore = (*SQLiteStore)(nil)
