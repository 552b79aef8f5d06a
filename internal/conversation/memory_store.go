package conversation

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long an idle conversation survives in a MemoryStore.
const DefaultTTL = 24 * time.Hour

// MemoryStore is an in-process Store. Conversations that have not been
// written for longer than the TTL are dropped on access or by Sweep.
type MemoryStore struct {
	mu        sync.Mutex
	window    int
	ttl       time.Duration
	now       func() time.Time
	history   map[Key]*historyEntry
	summaries map[Key]*summaryEntry
	closed    bool
}

type historyEntry struct {
	msgs    []Message
	touched time.Time
}

type summaryEntry struct {
	summary Summary
	touched time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithWindow sets the number of messages kept per conversation.
func WithWindow(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithTTL sets the idle expiry. A zero TTL disables expiry.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		window:    DefaultHistoryWindow,
		ttl:       DefaultTTL,
		now:       time.Now,
		history:   make(map[Key]*historyEntry),
		summaries: make(map[Key]*summaryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) expired(touched time.Time) bool {
	return s.ttl > 0 && s.now().Sub(touched) > s.ttl
}

func (s *MemoryStore) guard(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrStoreClosed
	}
	return key.Validate()
}

// Append implements HistoryStore.
func (s *MemoryStore) Append(ctx context.Context, key Key, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(ctx, key); err != nil {
		return err
	}

	e, ok := s.history[key]
	if !ok || s.expired(e.touched) {
		e = &historyEntry{}
		s.history[key] = e
	}
	for _, m := range msgs {
		if m.Role == "" {
			m.Role = RoleUser
		}
		e.msgs = append(e.msgs, m)
	}
	if over := len(e.msgs) - s.window; over > 0 {
		e.msgs = append([]Message(nil), e.msgs[over:]...)
	}
	e.touched = s.now()
	return nil
}

// Read implements HistoryStore.
func (s *MemoryStore) Read(ctx context.Context, key Key, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(ctx, key); err != nil {
		return nil, err
	}

	e, ok := s.history[key]
	if !ok {
		return nil, nil
	}
	if s.expired(e.touched) {
		delete(s.history, key)
		return nil, nil
	}

	msgs := e.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

// Get implements SummaryStore.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(ctx, key); err != nil {
		return Summary{}, false, err
	}

	e, ok := s.summaries[key]
	if !ok {
		return Summary{}, false, nil
	}
	if s.expired(e.touched) {
		delete(s.summaries, key)
		return Summary{}, false, nil
	}
	return e.summary, true, nil
}

// Set implements SummaryStore.
func (s *MemoryStore) Set(ctx context.Context, key Key, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(ctx, key); err != nil {
		return err
	}
	s.summaries[key] = &summaryEntry{summary: summary, touched: s.now()}
	return nil
}

// Sweep drops expired history and summaries and returns how many entries were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.history {
		if s.expired(e.touched) {
			delete(s.history, k)
			removed++
		}
	}
	for k, e := range s.summaries {
		if s.expired(e.touched) {
			delete(s.summaries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of conversations with live history.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Close releases the store. Subsequent calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.history = nil
	s.summaries = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
