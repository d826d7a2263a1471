package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalhouse/msgvault/internal/types"
)

func newTestManager(t *testing.T, available bool) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		Root:       filepath.Join(t.TempDir(), "logs"),
		MaxHistory: 100,
		Available:  available,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_GetCreatesLazily(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	first, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Get returned distinct clients for the same name")
	}

	// One database file per client, named after the client.
	dbPath := filepath.Join(m.opts.Root, "alice.sqlite3")
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected database file at %s: %v", dbPath, err)
	}
}

func TestManager_InvalidName(t *testing.T) {
	m := newTestManager(t, true)

	_, err := m.Get(context.Background(), "../escape")
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("Get with invalid name = %v, want ErrInvalidName", err)
	}
}

func TestManager_IndependentIDAllocators(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	alice, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := m.Get(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}

	alice.NextMessageID()
	alice.NextMessageID()

	if got := bob.NextMessageID(); got != 1 {
		t.Errorf("bob's first ID = %d, want 1", got)
	}
	if got := alice.NextMessageID(); got != 3 {
		t.Errorf("alice's third ID = %d, want 3", got)
	}
}

func TestManager_MessageIDsFlowIntoDeliveredMessages(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	c, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	network := types.Network{UUID: "net-1"}
	channel := types.Channel{Name: "#a"}
	for i := int64(1); i <= 3; i++ {
		c.Store().Index(network, channel, types.Message{
			Time: time.UnixMilli(i * 100),
			Type: types.MessageTypeMessage,
			Text: "hello",
		})
	}
	c.Store().Flush()

	messages, err := c.Store().GetMessages(ctx, network, channel)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	for i, msg := range messages {
		if msg.ID != int64(i+1) {
			t.Errorf("messages[%d].ID = %d, want %d", i, msg.ID, i+1)
		}
	}
}

func TestManager_DisabledStorage(t *testing.T) {
	m := newTestManager(t, false)

	c, err := m.Get(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if c.Store().CanProvideMessages() {
		t.Error("store should be disabled when storage is unavailable")
	}
}

func TestManager_CloseDisablesClients(t *testing.T) {
	m := newTestManager(t, true)

	c, err := m.Get(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Store().CanProvideMessages() {
		t.Fatal("store should be enabled before Close")
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Store().CanProvideMessages() {
		t.Error("store should be disabled after manager Close")
	}
}
