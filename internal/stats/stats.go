// Package stats is an optional game-history recorder backed by SQLite.
// It observes game lifecycle changes through the lobby's stats hook and
// keeps simple per-game rows for later inspection. Recording is
// best-effort and asynchronous: hook calls enqueue a write and return
// immediately, a failed or dropped write is logged, never propagated; the
// coordination state itself stays entirely in memory.
package stats

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"ygame/internal/game"
	"ygame/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP,
	closed_at   TIMESTAMP
);
`

// Recorder writes game lifecycle rows to a SQLite database.
type Recorder struct {
	db    *sql.DB
	log   *logger.ColoredLogger
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// Open opens (or creates) the database at path, ensures the schema, and
// starts the writer goroutine.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	r := &Recorder{
		db:    db,
		log:   logger.StatsLogger,
		queue: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go r.writer()
	return r, nil
}

func (r *Recorder) writer() {
	for {
		select {
		case fn := <-r.queue:
			fn()
		case <-r.done:
			for {
				select {
				case fn := <-r.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close drains pending writes and closes the database.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.done) })
	return r.db.Close()
}

// enqueue hands a write to the writer goroutine without blocking the
// caller (the lobby goroutine).
func (r *Recorder) enqueue(fn func()) {
	select {
	case r.queue <- fn:
	default:
		r.log.Warn("Stats queue full, dropping a write")
	}
}

// GameCreated records a new room.
func (r *Recorder) GameCreated(info game.Info) {
	id, name := info.ID.String(), info.Name
	r.enqueue(func() {
		_, err := r.db.Exec(
			`INSERT OR IGNORE INTO games (id, name, created_at) VALUES (?, ?, ?)`,
			id, name, time.Now().UTC())
		if err != nil {
			r.log.Warn("Unable to record game %s: %v", id, err)
		}
	})
}

// GameStatusChanged records init and finish transitions.
func (r *Recorder) GameStatusChanged(info game.Info) {
	var column string
	switch info.Status {
	case game.StatusStarted:
		column = "started_at"
	case game.StatusFinished:
		column = "finished_at"
	default:
		return
	}
	id := info.ID.String()
	r.enqueue(func() {
		_, err := r.db.Exec(
			`UPDATE games SET `+column+` = ? WHERE id = ? AND `+column+` IS NULL`,
			time.Now().UTC(), id)
		if err != nil {
			r.log.Warn("Unable to record status of game %s: %v", id, err)
		}
	})
}

// GameClosed records a room's removal.
func (r *Recorder) GameClosed(gameID uuid.UUID) {
	id := gameID.String()
	r.enqueue(func() {
		_, err := r.db.Exec(`UPDATE games SET closed_at = ? WHERE id = ?`,
			time.Now().UTC(), id)
		if err != nil {
			r.log.Warn("Unable to record closure of game %s: %v", id, err)
		}
	})
}

// Summary is the aggregate served by the stats endpoint.
type Summary struct {
	TotalGames    int `json:"total_games"`
	StartedGames  int `json:"started_games"`
	FinishedGames int `json:"finished_games"`
	ClosedGames   int `json:"closed_games"`
}

// Summarize aggregates the recorded history.
func (r *Recorder) Summarize() (Summary, error) {
	var s Summary
	row := r.db.QueryRow(`SELECT
		COUNT(*),
		COUNT(started_at),
		COUNT(finished_at),
		COUNT(closed_at)
	FROM games`)
	if err := row.Scan(&s.TotalGames, &s.StartedGames, &s.FinishedGames, &s.ClosedGames); err != nil {
		return Summary{}, err
	}
	return s, nil
}
