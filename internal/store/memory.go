package store

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
)

// Memory keeps sessions and the leaderboard in process memory behind one
// mutex. State does not survive a restart and is not shared between instances.
type Memory struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	leaderboard map[int64]*domain.GlobalEntry
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*domain.Session),
		leaderboard: make(map[int64]*domain.GlobalEntry),
	}
}

func (m *Memory) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session %s already exists", s.ID))
	}

	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessions[id].Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, mut Mutation) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}

	next := cur.Clone()
	credits, err := mut(next)
	if stderrors.Is(err, ErrSkip) {
		return cur.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	m.sessions[id] = next
	for _, c := range credits {
		e, ok := m.leaderboard[c.UserID]
		if !ok {
			e = &domain.GlobalEntry{}
			m.leaderboard[c.UserID] = e
		}
		e.Apply(c)
	}

	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

func (m *Memory) DeleteIf(_ context.Context, id string, check func(s *domain.Session) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return false, nil
	}

	if err := check(cur.Clone()); err != nil {
		return false, err
	}

	delete(m.sessions, id)
	return true, nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.Match(s) {
			ss = append(ss, s.Clone())
		}
	}

	sortSessions(ss)
	return ss, nil
}

func (m *Memory) Leaderboard(_ context.Context) ([]domain.GlobalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	es := make([]domain.GlobalEntry, 0, len(m.leaderboard))
	for _, e := range m.leaderboard {
		es = append(es, *e)
	}

	sortEntries(es)
	return es, nil
}

func (m *Memory) UserStats(_ context.Context, userID int64) (*domain.GlobalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.leaderboard[userID]
	if !ok {
		return nil, nil
	}

	c := *e
	return &c, nil
}

func (m *Memory) Sweep(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, s := range m.sessions {
		if expired(s, before) {
			delete(m.sessions, id)
			ids = append(ids, id)
		}
	}

	return ids, nil
}
