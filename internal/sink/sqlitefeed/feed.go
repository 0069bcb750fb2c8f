// Package sqlitefeed records decoded graph samples in a SQLite database.
package sqlitefeed

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

const DefaultBatchSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS graphs (
	session TEXT NOT NULL,
	id      TEXT NOT NULL,
	spec    TEXT NOT NULL,
	PRIMARY KEY (session, id)
);
CREATE TABLE IF NOT EXISTS samples (
	session TEXT    NOT NULL,
	seq     INTEGER NOT NULL,
	channel INTEGER NOT NULL,
	value   REAL    NOT NULL,
	raw     INTEGER NOT NULL,
	ts      INTEGER NOT NULL,
	PRIMARY KEY (session, seq)
);
CREATE INDEX IF NOT EXISTS samples_channel ON samples (session, channel);
`

// Feed is a router.GraphFeed that buffers samples and inserts them in
// batches, one transaction per batch.
type Feed struct {
	db        *sql.DB
	insert    *sql.Stmt
	session   string
	batchSize int
	log       *zap.Logger

	mu      sync.Mutex
	pending []demux.Sample
	seq     uint64
	closed  bool
}

// Open creates or opens the database at path. An empty path creates
// swotrace_<session>.sqlite3 in the working directory; an empty session
// gets a fresh id.
func Open(path, session string, batchSize int, log *zap.Logger) (*Feed, error) {
	if session == "" {
		session = xid.New().String()
	}
	if path == "" {
		path = "swotrace_" + session + ".sqlite3"
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, common.WrapError(ocsd.ErrFileError, err, "sqlite open "+path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(ocsd.ErrFileError, err, "sqlite schema")
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		session, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		db.Close()
		return nil, common.WrapError(ocsd.ErrFileError, err, "sqlite session")
	}
	insert, err := db.Prepare(`INSERT INTO samples (session, seq, channel, value, raw, ts) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, common.WrapError(ocsd.ErrFileError, err, "sqlite prepare")
	}

	log.Named("feed.sqlite").Info("recording samples", zap.String("path", path), zap.String("session", session))
	return &Feed{
		db:        db,
		insert:    insert,
		session:   session,
		batchSize: batchSize,
		log:       log.Named("feed.sqlite"),
	}, nil
}

// FromConfig opens the feed described by the configuration file.
func FromConfig(c config.SQLiteFeedConfig, session string, log *zap.Logger) (*Feed, error) {
	return Open(c.Path, session, c.BatchSize, log)
}

// Session returns the id samples are recorded under.
func (f *Feed) Session() string { return f.session }

func (f *Feed) Describe(graphs []config.GraphSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "sqlite feed closed")
	}
	tx, err := f.db.Begin()
	if err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite begin")
	}
	for _, g := range graphs {
		spec, err := json.Marshal(g)
		if err != nil {
			tx.Rollback()
			return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite graph "+g.ID)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO graphs (session, id, spec) VALUES (?, ?, ?)`,
			f.session, g.ID, string(spec)); err != nil {
			tx.Rollback()
			return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite graph "+g.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite commit")
	}
	return nil
}

func (f *Feed) Sample(s demux.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "sqlite feed closed")
	}
	f.pending = append(f.pending, s)
	if len(f.pending) >= f.batchSize {
		return f.flushLocked()
	}
	return nil
}

// Flush writes the buffered samples.
func (f *Feed) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *Feed) flushLocked() error {
	if len(f.pending) == 0 {
		return nil
	}
	tx, err := f.db.Begin()
	if err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite begin")
	}
	stmt := tx.Stmt(f.insert)
	seq := f.seq
	for _, s := range f.pending {
		seq++
		if _, err := stmt.Exec(f.session, seq, s.Channel, s.Value, s.Raw, s.Timestamp); err != nil {
			tx.Rollback()
			return common.WrapError(ocsd.ErrSinkWrite, err, fmt.Sprintf("sqlite insert seq %d", seq))
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite commit")
	}
	f.log.Debug("flushed samples", zap.Int("count", len(f.pending)))
	f.seq = seq
	f.pending = f.pending[:0]
	return nil
}

// Close flushes what is buffered and closes the database.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	flushErr := f.flushLocked()
	f.insert.Close()
	if err := f.db.Close(); err != nil && flushErr == nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "sqlite close")
	}
	return flushErr
}
