package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalhouse/msgvault/internal/storage"
)

// ManagerOptions configure the client manager.
type ManagerOptions struct {
	// Root is the logs root; each client's database lives directly
	// under it as <name>.sqlite3.
	Root string

	// MaxHistory is passed through to every client store.
	MaxHistory int

	// Available is the storage capability flag resolved at startup.
	// When false every client is created with a disabled store.
	Available bool

	Logger *slog.Logger
}

// Manager owns the set of hosted clients and opens them lazily on first
// access. Each client gets exactly one store handle.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager creates a manager rooted at opts.Root, creating the root
// directory if it does not exist.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create logs root: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		opts:    opts,
		log:     log.With("component", "client"),
		clients: make(map[string]*Client),
	}, nil
}

// Get returns the client with the given name, creating it on first use.
// A client whose store could not be enabled is still returned: its store
// reports CanProvideMessages() == false and behaves as a no-op.
func (m *Manager) Get(ctx context.Context, name string) (*Client, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if c, ok := m.clients[name]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if c, ok := m.clients[name]; ok {
		return c, nil
	}

	c := &Client{name: name}
	c.store = storage.NewStore(storage.Options{
		Path:          filepath.Join(m.opts.Root, name+".sqlite3"),
		MaxHistory:    m.opts.MaxHistory,
		Available:     m.opts.Available,
		NextMessageID: c.NextMessageID,
		Logger:        m.log.With("client", name),
	})

	// Bootstrap failure leaves the client usable with an inert store.
	if err := c.store.Enable(ctx); err != nil {
		m.log.Warn("message storage disabled for client", "client", name, "error", err)
	} else if c.store.CanProvideMessages() {
		m.log.Info("client loaded", "client", name)
	}

	m.clients[name] = c
	return c, nil
}

// Close closes every loaded client. The last error wins.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			m.log.Error("error closing client store", "client", name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
