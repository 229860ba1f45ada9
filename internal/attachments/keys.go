package attachments

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"docvault-backend/internal/shared/util"
)

const (
	keyPrefix      = "documents/"
	maxKeyAttempts = 3
)

// KeyExister reports whether a blob key is already taken.
type KeyExister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// KeyGenerator produces blob keys of the form documents/<millis>-<name>.
// Timestamps are strictly increasing within the process.
type KeyGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewKeyGenerator constructs a KeyGenerator on the wall clock.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{now: time.Now}
}

func (g *KeyGenerator) tick() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return ms
}

// Next returns an unused key for fileName, checking the store for collisions
// with keys issued by other processes.
func (g *KeyGenerator) Next(ctx context.Context, store KeyExister, fileName string) (string, error) {
	name := util.SanitizeFileName(fileName)
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := keyPrefix + strconv.FormatInt(g.tick(), 10) + "-" + name
		taken, err := store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check blob key %s: %w", key, err)
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("no free blob key for %q after %d attempts", name, maxKeyAttempts)
}
