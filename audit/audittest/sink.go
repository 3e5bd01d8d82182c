// Package audittest provides an in-memory audit sink for tests.
package audittest

import (
	"context"
	"secure-ledger/audit"
	"sync"
)

type MemorySink struct {
	mutex   sync.Mutex
	records []audit.Record
	// Err, when set, is returned by Append and nothing is stored.
	Err error
}

var _ audit.Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, rec audit.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []audit.Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

// OfKind returns the records of one kind, in append order.
func (s *MemorySink) OfKind(kind audit.Kind) []audit.Record {
	var out []audit.Record
	for _, r := range s.Records() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemorySink) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records = nil
}

// NewTrail returns a trail writing to a fresh MemorySink with a fixed
// fingerprint, and the sink itself.
func NewTrail(policy audit.Policy, opts ...audit.Option) (*audit.Trail, *MemorySink) {
	sink := NewMemorySink()
	opts = append([]audit.Option{audit.WithFingerprint("test-device", "test-app")}, opts...)
	return audit.NewTrail(sink, policy, opts...), sink
}
