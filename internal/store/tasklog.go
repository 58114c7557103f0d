package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/pkg/run"
)

// recordQueueSize bounds the async write queue; records beyond it are
// dropped rather than blocking the response path.
const recordQueueSize = 256

// TaskEntry is one persisted task outcome.
type TaskEntry struct {
	ID         string
	UserID     int64
	ChatID     int64
	Prompt     string
	Outcome    string
	DurationMS int64
	CreatedAt  time.Time
}

// TaskLog persists task outcomes to SQLite. Writes are asynchronous and
// best-effort; reads serve the status command.
type TaskLog struct {
	db     *sql.DB
	logger zerolog.Logger

	queue chan run.TaskRecord
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewTaskLog opens (or creates) the task log database at dbPath.
func NewTaskLog(dbPath string, logger zerolog.Logger) (*TaskLog, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l := &TaskLog{
		db:     db,
		logger: logger.With().Str("component", "tasklog").Logger(),
		queue:  make(chan run.TaskRecord, recordQueueSize),
		done:   make(chan struct{}),
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

func (l *TaskLog) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			chat_id INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_chat ON tasks(chat_id, created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record queues one task outcome for persistence. It never blocks: when the
// queue is full the record is dropped and counted in the log.
func (l *TaskLog) Record(rec run.TaskRecord) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	select {
	case l.queue <- rec:
	default:
		l.logger.Warn().Msg("Task log queue full, dropping record")
	}
}

func (l *TaskLog) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case rec := <-l.queue:
			l.insert(rec)
		case <-l.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-l.queue:
					l.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *TaskLog) insert(rec run.TaskRecord) {
	id, err := gonanoid.New()
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to generate task ID")
		return
	}

	_, err = l.db.Exec(
		`INSERT INTO tasks (id, user_id, chat_id, prompt, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.UserID, rec.ChatID, rec.Prompt, rec.Outcome,
		rec.Duration.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to persist task record")
	}
}

// Recent returns up to n most recent tasks for the chat, newest first.
func (l *TaskLog) Recent(chatID int64, n int) ([]TaskEntry, error) {
	rows, err := l.db.Query(
		`SELECT id, user_id, chat_id, prompt, outcome, duration_ms, created_at
		 FROM tasks WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var entries []TaskEntry
	for rows.Next() {
		var e TaskEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChatID, &e.Prompt, &e.Outcome, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close stops the writer, flushes queued records and closes the database.
func (l *TaskLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}
