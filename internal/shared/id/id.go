// Package id provides ULID-based identifiers for simulation runs and
// observations.
//
// ULIDs are lexicographically sortable by creation time, which keeps log
// output and timing dumps ordered. Identifiers carry a short type prefix
// (run_*, obs_*) so they are readable in logs.
//
// Observation IDs can be derived deterministically from a run ID and the
// observation name, so every rank of a process group assigns the same ID to
// the same observation without communicating.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one execution of the driver across all ranks.
type RunID string

// ObservationID identifies one observation within a run.
type ObservationID string

const (
	RunPrefix         = "run"
	ObservationPrefix = "obs"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with cryptographically secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRunID generates a new run ID. Only world rank 0 should call it; the
// value is broadcast to the other ranks.
func NewRunID() RunID {
	return RunID(Default().GenerateWithPrefix(RunPrefix))
}

// ObservationFor derives the observation ID for name within run. The ULID
// timestamp is taken from the run ID and the entropy from the name, so the
// result is identical on every rank.
func ObservationFor(run RunID, name string) ObservationID {
	ts := uint64(0)
	if parsed, err := Parse(strings.TrimPrefix(string(run), RunPrefix+"_")); err == nil {
		ts = parsed.Time()
	}

	h := fnv.New64a()
	h.Write([]byte(run))
	h.Write([]byte{0})
	h.Write([]byte(name))
	sum := h.Sum64()

	var entropy [10]byte
	binary.BigEndian.PutUint64(entropy[:8], sum)
	binary.BigEndian.PutUint16(entropy[8:], uint16(sum>>17))

	var u ulid.ULID
	_ = u.SetTime(ts)
	_ = u.SetEntropy(entropy[:])
	return ObservationID(fmt.Sprintf("%s_%s", ObservationPrefix, u.String()))
}

func (id RunID) String() string         { return string(id) }
func (id ObservationID) String() string { return string(id) }

// IsValid checks if a string is a valid ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

// Parse parses a ULID string.
func Parse(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}

// Timestamp extracts the creation time from a prefixed or bare ULID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndex(s, "_"); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
