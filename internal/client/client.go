package client

import (
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/signalhouse/msgvault/internal/storage"
)

const (
	// MaxNameLength is the maximum length of a client name.
	MaxNameLength = 64
)

var (
	// ErrInvalidName indicates a client name failed validation.
	ErrInvalidName = errors.New("invalid client name")
)

// namePattern matches a valid client name. The name becomes part of the
// database file name, so it must be a single safe path segment.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// ValidateName checks a client name against format rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (must be alphanumeric with - _ .)", ErrInvalidName, name)
	}
	return nil
}

// Client is one hosted chat client: a display name, a monotonically
// increasing message-id allocator, and the client's message store.
//
// Message IDs are ephemeral. The counter starts at zero for every
// process lifetime and is consulted once per delivered message.
type Client struct {
	name  string
	ids   atomic.Int64
	store *storage.Store
}

// Name returns the client's display name.
func (c *Client) Name() string {
	return c.name
}

// NextMessageID mints the next message ID for this client.
func (c *Client) NextMessageID() int64 {
	return c.ids.Add(1)
}

// Store returns the client's message store. The store may be disabled;
// it is always non-nil and safe to call.
func (c *Client) Store() *storage.Store {
	return c.store
}

// Close closes the client's message store.
func (c *Client) Close() error {
	return c.store.Close()
}
