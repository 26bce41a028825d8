// Package store holds the authoritative session state and the global
// leaderboard aggregate.
//
// Every mutating call is one critical section: the current session is read,
// the mutation computes the next state, and the result is stored together with
// any leaderboard credits. A failed mutation leaves nothing behind.
package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/firdavs625/groupquiz/internal/domain"
)

// ErrSkip, returned by a Mutation, aborts the write without failing the call.
// Update then returns the current, unmodified session.
var ErrSkip = errors.New("store: skip write")

// ErrConflict is returned when an optimistic write kept losing to concurrent writers.
var ErrConflict = errors.New("store: too many concurrent writers")

// Mutation edits s in place. Credits it returns are folded into the global
// leaderboard atomically with the session write. A Mutation may run more than
// once for a single Update, so it must only depend on s.
type Mutation func(s *domain.Session) ([]domain.Credit, error)

// Filter selects sessions in List. Zero values match everything.
type Filter struct {
	VariantID *int
	Statuses  []domain.Status
}

func (f Filter) Match(s *domain.Session) bool {
	if f.VariantID != nil && s.VariantID != *f.VariantID {
		return false
	}

	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}

	return true
}

// Store is the session repository. Lookups of unknown ids return nil results,
// not errors; callers decide how to report them.
type Store interface {
	// Create inserts a new session. It fails with AlreadyExists on id reuse.
	Create(ctx context.Context, s *domain.Session) error
	// Get returns the session or nil.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Update applies m to the session and returns the stored state, or nil if absent.
	Update(ctx context.Context, id string, m Mutation) (*domain.Session, error)
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteIf removes the session when check passes, in the same critical section.
	DeleteIf(ctx context.Context, id string, check func(s *domain.Session) error) (bool, error)
	// List returns matching sessions ordered by creation time.
	List(ctx context.Context, f Filter) ([]*domain.Session, error)
	// Leaderboard returns every aggregate entry, ordered by user id.
	Leaderboard(ctx context.Context) ([]domain.GlobalEntry, error)
	// UserStats returns one user's aggregate or nil.
	UserStats(ctx context.Context, userID int64) (*domain.GlobalEntry, error)
	// Sweep deletes finished sessions that ended before the given time and returns their ids.
	Sweep(ctx context.Context, before time.Time) ([]string, error)
}

func expired(s *domain.Session, before time.Time) bool {
	return s.Status == domain.StatusFinished && s.EndTime != nil && s.EndTime.Before(before)
}

func sortSessions(ss []*domain.Session) {
	sort.SliceStable(ss, func(i, j int) bool {
		if !ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].CreatedAt.Before(ss[j].CreatedAt)
		}
		return ss[i].ID < ss[j].ID
	})
}

func sortEntries(es []domain.GlobalEntry) {
	sort.Slice(es, func(i, j int) bool {
		return es[i].UserID < es[j].UserID
	})
}
