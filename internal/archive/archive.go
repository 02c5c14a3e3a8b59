package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"gambit/internal/core"
)

// Archive keeps a history of finished matches in SQLite with async
// writes. Losing an archive row on overload or shutdown is acceptable;
// blocking a match operation on it is not.
type Archive struct {
	db           *sql.DB
	path         string
	writeChan    chan func(*sql.Tx) error
	healthStatus atomic.Bool
	logger       zerolog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New opens the archive database and starts the async writer.
func New(dataSourceName string, logger zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithCancel(context.Background())

	a := &Archive{
		db:        db,
		path:      dataSourceName,
		writeChan: make(chan func(*sql.Tx) error, 1000),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	a.healthStatus.Store(true)

	a.wg.Add(1)
	go a.writerLoop()

	return a, nil
}

// Init creates the schema.
func (a *Archive) Init() error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return tx.Commit()
}

// writerLoop processes queued writes until shutdown, then drains with a
// deadline.
func (a *Archive) writerLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			deadline := time.After(2 * time.Second)
			for {
				select {
				case fn := <-a.writeChan:
					if a.healthStatus.Load() {
						a.executeWrite(fn)
					}
				case <-deadline:
					return
				default:
					return
				}
			}

		case fn := <-a.writeChan:
			if !a.healthStatus.Load() {
				continue
			}
			a.executeWrite(fn)
		}
	}
}

func (a *Archive) executeWrite(fn func(*sql.Tx) error) {
	tx, err := a.db.Begin()
	if err != nil {
		a.logger.Error().Err(err).Msg("archive degraded: begin transaction failed")
		a.healthStatus.Store(false)
		return
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("archive degraded: write failed")
		a.healthStatus.Store(false)
		return
	}

	if err := tx.Commit(); err != nil {
		a.logger.Error().Err(err).Msg("archive degraded: commit failed")
		a.healthStatus.Store(false)
	}
}

// RecordFinished enqueues a finished match. Writes are dropped when the
// queue is full or the archive has degraded.
func (a *Archive) RecordFinished(rec FinishedMatch) {
	if !a.healthStatus.Load() {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}

	select {
	case a.writeChan <- func(tx *sql.Tx) error {
		query := `INSERT INTO matches (
			match_id, first_id, second_id, winner_id, reason, difficulty, final_position, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := tx.Exec(query,
			rec.ID, rec.FirstID, rec.SecondID, rec.WinnerID,
			rec.Reason, rec.Difficulty, rec.FinalPosition, rec.EndedAt,
		)
		return err
	}:
	default:
		a.logger.Warn().Str("match", rec.ID).Msg("archive write queue full, dropping record")
	}
}

// Recent returns the latest finished matches, optionally filtered to
// one participant, newest first.
func (a *Archive) Recent(ctx context.Context, participantID string, limit int) ([]FinishedMatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT match_id, first_id, second_id, winner_id, reason, difficulty, final_position, ended_at
	FROM matches WHERE 1=1`

	var args []any
	if participantID != "" {
		query += " AND (first_id = ? OR second_id = ?)"
		args = append(args, participantID, participantID)
	}
	query += " ORDER BY ended_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query archive: %v", core.ErrStorageIO, err)
	}
	defer rows.Close()

	var matches []FinishedMatch
	for rows.Next() {
		var m FinishedMatch
		err := rows.Scan(
			&m.ID, &m.FirstID, &m.SecondID, &m.WinnerID,
			&m.Reason, &m.Difficulty, &m.FinalPosition, &m.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan archive row: %v", core.ErrStorageIO, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate archive rows: %v", core.ErrStorageIO, err)
	}
	return matches, nil
}

// IsHealthy reports whether the async writer is still accepting work.
func (a *Archive) IsHealthy() bool {
	return a.healthStatus.Load()
}

// Close stops the writer, waits briefly for queued writes and closes
// the database.
func (a *Archive) Close() error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		a.logger.Warn().Msg("archive writer shutdown timeout, queued writes may be lost")
	}

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Delete closes the archive and removes its database file.
func (a *Archive) Delete() error {
	if err := a.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete database file: %w", err)
	}
	for _, sidecar := range []string{a.path + "-wal", a.path + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete database sidecar: %w", err)
		}
	}
	return nil
}
