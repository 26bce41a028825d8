package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/event"
	"github.com/firdavs625/groupquiz/internal/store"
)

const (
	DefaultPublishInterval = 200 * time.Millisecond

	publishTimeout = 5 * time.Second
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	// Redis, when set, shares the publish throttle between instances.
	Redis           redis.UniversalClient
	Prefix          string
	PublishInterval time.Duration
	Now             func() time.Time
}

// Service ranks the global leaderboard and the live standings of a session.
// Ranks are positional and computed on every read.
type Service struct {
	eb       *event.Bus
	store    store.Store
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastPublish time.Time
	trailing    *time.Timer
	stopped     bool
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
		now:      c.Now,
	}

	if s.interval <= 0 {
		s.interval = DefaultPublishInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameParticipantFinished, func(ctx context.Context, e event.Event) error {
		return s.schedulePublishLeaderboard(ctx)
	})

	return s
}

type GetLeaderboardRequest struct {
	// Limit caps the number of rows, 0 returns all.
	Limit int
}

// GetLeaderboard returns the global leaderboard ordered by average percentage,
// then by number of completed tests.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) ([]domain.RankedEntry, error) {
	es, err := s.store.Leaderboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	ranked := Rank(es)
	if req.Limit > 0 && len(ranked) > req.Limit {
		ranked = ranked[:req.Limit]
	}

	return ranked, nil
}

type GetUserStatsRequest struct {
	UserID int64
}

// GetUserStats returns one user's aggregate together with their current rank.
func (s *Service) GetUserStats(ctx context.Context, req GetUserStatsRequest) (*domain.RankedEntry, error) {
	ranked, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return nil, err
	}

	for _, e := range ranked {
		if e.UserID == req.UserID {
			return &e, nil
		}
	}

	return nil, errors.NotFound("no results for user %d", req.UserID)
}

type GetSessionRankingRequest struct {
	SessionID string
	Limit     int
}

// GetSessionRanking returns the live standings of a session. Ties keep join order.
func (s *Service) GetSessionRanking(ctx context.Context, req GetSessionRankingRequest) ([]domain.Standing, error) {
	ss, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if ss == nil {
		return nil, errors.NotFound("session %s not found", req.SessionID)
	}

	return Standings(ss, req.Limit), nil
}

// Rank orders entries by average percentage descending, then total tests
// descending, and numbers them from 1.
func Rank(es []domain.GlobalEntry) []domain.RankedEntry {
	sorted := make([]domain.GlobalEntry, len(es))
	copy(sorted, es)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].AveragePercentage != sorted[j].AveragePercentage {
			return sorted[i].AveragePercentage > sorted[j].AveragePercentage
		}
		return sorted[i].TotalTests > sorted[j].TotalTests
	})

	out := make([]domain.RankedEntry, 0, len(sorted))
	for i, e := range sorted {
		out = append(out, domain.RankedEntry{Rank: i + 1, GlobalEntry: e})
	}

	return out
}

// Standings ranks the participants of a session by score. limit <= 0 keeps
// everyone.
func Standings(ss *domain.Session, limit int) []domain.Standing {
	ps := make([]*domain.Participant, len(ss.Participants))
	copy(ps, ss.Participants)

	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Score > ps[j].Score
	})

	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}

	out := make([]domain.Standing, 0, len(ps))
	for i, p := range ps {
		out = append(out, domain.Standing{
			Rank:            i + 1,
			UserID:          p.UserID,
			Username:        p.Username,
			Name:            p.Name,
			Score:           p.Score,
			CurrentQuestion: p.CurrentQuestion,
			Finished:        p.Finished(),
			LeftEarly:       p.LeftEarly,
		})
	}

	return out
}

// Stop cancels a pending trailing publish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.trailing != nil {
		s.trailing.Stop()
		s.trailing = nil
	}
}

// schedulePublishLeaderboard publishes the leaderboard at most once per
// interval. Credits arriving inside the interval are covered by one trailing
// publish at its end, so the last state always goes out.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.acquire(ctx)
	if err != nil {
		return err
	}

	if ok {
		return s.publishLeaderboard(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.trailing != nil {
		return nil
	}

	s.trailing = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		s.trailing = nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.publishLeaderboard(ctx); err != nil {
			slog.ErrorContext(ctx, "leaderboard: trailing publish failed", "error", err)
		}
	})

	return nil
}

// acquire takes the publish slot for the current interval. With Redis the slot
// is shared by every instance.
func (s *Service) acquire(ctx context.Context) (bool, error) {
	now := s.now()

	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, s.getPublishKey(), now.UnixMilli(), s.interval).Result()
		if err != nil {
			return false, fmt.Errorf("setnx: %w", err)
		}
		return ok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastPublish.IsZero() && now.Sub(s.lastPublish) < s.interval {
		return false, nil
	}

	s.lastPublish = now
	return true, nil
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	es, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Entries: es})
	return nil
}

func (s *Service) getPublishKey() string {
	return fmt.Sprintf("%s:leaderboard:published", s.prefix)
}
