// Package ids generates ULIDs for entity keys and short human-typable join codes.
package ids

import (
	crand "crypto/rand"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewGenerator() *Generator {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Generator{
		entropy: ulid.Monotonic(src, 0),
	}
}

func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), g.entropy).String()
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
)

func DefaultGenerator() *Generator {
	defaultOnce.Do(func() {
		defaultGen = NewGenerator()
	})
	return defaultGen
}

func NewULID() string {
	return DefaultGenerator().New()
}

// joinCodeAlphabet avoids characters audiences misread on a projected screen
// (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

// NewJoinCode returns a short session code suitable for reading out loud.
// Uniqueness is enforced by the sessions table, not here.
func NewJoinCode() string {
	buf := make([]byte, joinCodeLength)
	if _, err := crand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the
		// ULID entropy rather than panic mid-show.
		copy(buf, NewULID())
	}
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(buf[i])%len(joinCodeAlphabet)]
	}
	return string(buf)
}
