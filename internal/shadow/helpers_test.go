package shadow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/minifc/internal/infrastructure/database"
	"github.com/nerrad567/minifc/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/minifc/migrations"
)

type published struct {
	topic   string
	payload []byte
}

// memBus is an in-memory Transport that delivers synchronously to every
// subscription whose filter matches.
type memBus struct {
	mu         sync.Mutex
	subs       map[string]mqtt.MessageHandler
	published  []published
	publishErr error
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string]mqtt.MessageHandler)}
}

func (b *memBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *memBus) PublishEvent(topic string, payload []byte) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, published{topic: topic, payload: payload})
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload) //nolint:errcheck // handler errors are the client's concern
	}
	return nil
}

func (b *memBus) on(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

func (b *memBus) deliver(topic string, payload []byte) {
	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(topic, payload) //nolint:errcheck // handler errors are the client's concern
	}
}

func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) || (part != "+" && part != t[i]) {
			return false
		}
	}
	return len(f) == len(t)
}

var errBusDown = errors.New("bus down")

func openStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "shadow.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLStore(db)
}
