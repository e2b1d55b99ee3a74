package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Session is one conversation's memory.
type Session struct {
	ID        string
	Window    *Window
	CreatedAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
}

// LastUsed returns when the session was last fetched.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// Store keeps sessions in memory, keyed by ID.
//
// Thread Safety:
// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	locks      map[string]*sessionLock
	windowSize int
	nowFunc    func() time.Time
}

// sessionLock is a mutex shared by every holder and waiter of one session.
// It is dropped from the map when the last reference is released.
type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewStore creates a store whose sessions keep windowSize messages.
func NewStore(windowSize int) *Store {
	return &Store{
		sessions:   make(map[string]*Session),
		locks:      make(map[string]*sessionLock),
		windowSize: windowSize,
		nowFunc:    time.Now,
	}
}

// Get returns the session with id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.touch(s.nowFunc())
	}
	return sess, ok
}

// GetOrCreate returns the session with id, creating it with systemMessage
// as its head when absent. An empty systemMessage creates no head.
func (s *Store) GetOrCreate(id, systemMessage string) *Session {
	now := s.nowFunc()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id, Window: NewWindow(s.windowSize), CreatedAt: now}
		if systemMessage != "" {
			sess.Window.SetSystem(systemMessage)
		}
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	sess.touch(now)
	return sess
}

// Delete forgets the session. Deleting an unknown ID is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// IDs returns the known session IDs in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PruneIdle deletes sessions unused for longer than maxIdle and returns
// how many were removed.
func (s *Store) PruneIdle(maxIdle time.Duration) int {
	cutoff := s.nowFunc().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Lock acquires the per-session mutex and returns its release function.
func (s *Store) Lock(id string) func() {
	unlock, _ := s.LockContext(context.Background(), id)
	return unlock
}

// LockContext is like Lock but gives up when ctx is done.
func (s *Store) LockContext(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.release(id, l)
		})
	}, nil
}

func (s *Store) release(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
