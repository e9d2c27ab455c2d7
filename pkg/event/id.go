package event

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ID is a compound event identifier: the tag of the component that
// minted the event plus a per-source monotonically increasing counter.
// IDs are immutable and never reused within a pipeline's lifetime.
type ID struct {
	Source string
	Seq    uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Source, id.Seq)
}

// IsZero reports whether the ID has not been assigned.
func (id ID) IsZero() bool {
	return id.Source == "" && id.Seq == 0
}

// IDGen mints IDs for one source component. The sequence is strictly
// increasing; concurrent use is safe although sources are expected to
// mint from a single goroutine.
type IDGen struct {
	source string
	seq    atomic.Uint64
}

// NewIDGen creates a generator for the given source tag. An empty tag is
// replaced with a random one so two anonymous sources can never collide.
func NewIDGen(source string) *IDGen {
	if source == "" {
		source = uuid.NewString()
	}
	return &IDGen{source: source}
}

// Source returns the tag this generator stamps into minted IDs.
func (g *IDGen) Source() string {
	return g.source
}

// Next returns the next ID in the sequence.
func (g *IDGen) Next() ID {
	return ID{Source: g.source, Seq: g.seq.Add(1)}
}
