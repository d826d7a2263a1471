package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/signalhouse/msgvault/internal/types"
	_ "modernc.org/sqlite"
)

const (
	// unlimitedHistoryCap bounds a "no limit" history read so one query
	// cannot pull an arbitrarily large channel into memory.
	unlimitedHistoryCap = 100000

	// writeQueueDepth is how many pending writes a store buffers before
	// Index/DeleteChannel block on the writer goroutine.
	writeQueueDepth = 64
)

// Options configure one per-client message store.
type Options struct {
	// Path is the database file for this client.
	Path string

	// MaxHistory bounds GetMessages: 0 disables history reads entirely,
	// a negative value means unlimited (capped at unlimitedHistoryCap).
	MaxHistory int

	// Available is the engine capability flag resolved at startup. When
	// false, Enable leaves the store permanently disabled.
	Available bool

	// NextMessageID mints a fresh per-client message ID for each
	// delivered message. Optional; delivered IDs stay zero without it.
	NextMessageID func() int64

	Logger *slog.Logger
}

// Store is the SQLite-backed message archive for a single client.
//
// A store that is not (or could not be) enabled is an inert no-op
// surface: writes do nothing, reads return empty results, and no
// operation errors. Callers that need to distinguish "empty" from
// "unavailable" check CanProvideMessages.
type Store struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	enabled bool
	db      *sql.DB
	jobs    chan writeJob
	done    chan struct{}
}

// writeJob is one queued write statement. The writer goroutine supplies
// the database handle so jobs stay valid through shutdown.
type writeJob func(ctx context.Context, db *sql.DB)

// NewStore creates a store in the disabled state. Call Enable to open
// the database.
func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		opts: opts,
		log:  log.With("component", "storage"),
	}
}

// Enable opens (creating if necessary) the database file, reconciles the
// schema, and starts the write queue. It fails closed: on any error the
// store stays disabled and every operation remains a safe no-op.
func (s *Store) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return nil
	}
	if !s.opts.Available {
		s.log.Debug("sqlite engine unavailable, message storage stays disabled")
		return nil
	}

	if dir := filepath.Dir(s.opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Error("unable to create message storage directory", "dir", dir, "error", err)
			return fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.opts.Path)
	if err != nil {
		s.log.Error("unable to open message database", "path", s.opts.Path, "error", err)
		return fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(ctx, db); err != nil {
		db.Close()
		s.log.Error("unable to configure message database", "path", s.opts.Path, "error", err)
		return fmt.Errorf("enable pragmas: %w", err)
	}

	// Schema must be settled before the write queue accepts anything.
	if err := ensureSchema(ctx, db, s.log); err != nil {
		db.Close()
		s.log.Error("unable to initialize message schema", "path", s.opts.Path, "error", err)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.db = db
	s.jobs = make(chan writeJob, writeQueueDepth)
	s.done = make(chan struct{})
	s.enabled = true
	go s.writeLoop(db, s.jobs, s.done)

	return nil
}

func enablePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// writeLoop drains the write queue in submission order. It is the only
// goroutine that executes write statements, which gives writes their
// serialization guarantee.
func (s *Store) writeLoop(db *sql.DB, jobs <-chan writeJob, done chan<- struct{}) {
	defer close(done)
	for job := range jobs {
		job(context.Background(), db)
	}
}

// CanProvideMessages reports whether the store is enabled. Callers use
// it to decide whether to consult this store at all.
func (s *Store) CanProvideMessages() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Close disables the store, drains pending writes, and closes the
// database. Operations racing Close observe the store as disabled the
// moment it begins. Closing a disabled store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	s.enabled = false
	close(s.jobs)
	db := s.db
	s.db = nil
	s.mu.Unlock()

	<-s.done

	if err := db.Close(); err != nil {
		s.log.Error("error closing message database", "path", s.opts.Path, "error", err)
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Index persists one message. It is fire-and-forget: the insert is
// queued onto the writer goroutine and execution errors are logged, not
// returned. No-op when disabled.
func (s *Store) Index(network types.Network, channel types.Channel, msg types.Message) {
	payload, err := types.EncodePayload(msg)
	if err != nil {
		s.log.Error("unable to serialize message", "channel", channel.Name, "error", err)
		return
	}

	networkUUID := network.UUID
	channelName := strings.ToLower(channel.Name)
	timeMillis := msg.Time.UnixMilli()
	msgType := string(msg.Type)

	s.enqueue(func(ctx context.Context, db *sql.DB) {
		_, err := db.ExecContext(ctx,
			"INSERT INTO messages (network, channel, time, type, msg) VALUES (?, ?, ?, ?, ?)",
			networkUUID, channelName, timeMillis, msgType, string(payload))
		if err != nil {
			s.log.Error("unable to store message", "network", networkUUID, "channel", channelName, "error", err)
		}
	})
}

// DeleteChannel removes every stored message for the given network and
// channel. Irreversible. No-op when disabled.
func (s *Store) DeleteChannel(network types.Network, channel types.Channel) {
	networkUUID := network.UUID
	channelName := strings.ToLower(channel.Name)

	s.enqueue(func(ctx context.Context, db *sql.DB) {
		_, err := db.ExecContext(ctx,
			"DELETE FROM messages WHERE network = ? AND channel = ?",
			networkUUID, channelName)
		if err != nil {
			s.log.Error("unable to delete messages", "network", networkUUID, "channel", channelName, "error", err)
		}
	})
}

// enqueue submits a job to the writer goroutine. Holding the read lock
// across the send keeps Close from closing the channel mid-send.
func (s *Store) enqueue(job writeJob) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return
	}
	s.jobs <- job
}

// Flush blocks until every write submitted before the call has been
// executed. It exists for callers that need read-your-writes semantics
// on top of the fire-and-forget write path.
func (s *Store) Flush() {
	flushed := make(chan struct{})
	submitted := false

	s.mu.RLock()
	if s.enabled {
		s.jobs <- func(context.Context, *sql.DB) { close(flushed) }
		submitted = true
	}
	s.mu.RUnlock()

	if submitted {
		<-flushed
	}
}

// GetMessages returns up to MaxHistory most recent messages for the
// channel, ordered chronologically. A disabled store or MaxHistory of
// zero yields an empty result.
func (s *Store) GetMessages(ctx context.Context, network types.Network, channel types.Channel) ([]types.Message, error) {
	s.mu.RLock()
	enabled, db := s.enabled, s.db
	s.mu.RUnlock()

	if !enabled || s.opts.MaxHistory == 0 {
		return nil, nil
	}

	limit := s.opts.MaxHistory
	if limit < 0 {
		limit = unlimitedHistoryCap
	}

	rows, err := db.QueryContext(ctx,
		"SELECT time, type, msg FROM messages WHERE network = ? AND channel = ? ORDER BY time DESC LIMIT ?",
		network.UUID, strings.ToLower(channel.Name), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	type rawRow struct {
		timeMillis int64
		msgType    string
		payload    []byte
	}
	var raw []rawRow
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.timeMillis, &r.msgType, &r.payload); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Rows arrive newest-first; deliver oldest-first.
	messages := make([]types.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msg, err := types.DecodePayload(raw[i].payload)
		if err != nil {
			return nil, err
		}
		msg.Time = time.UnixMilli(raw[i].timeMillis)
		msg.Type = types.MessageType(raw[i].msgType)
		if s.opts.NextMessageID != nil {
			msg.ID = s.opts.NextMessageID()
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
