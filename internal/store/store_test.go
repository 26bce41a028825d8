package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/store"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestStores(t *testing.T) {
	impls := map[string]func(t *testing.T) store.Store{
		"memory": func(*testing.T) store.Store { return store.NewMemory() },
		"redis":  makeRedisStore,
	}

	for name, newStore := range impls {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) { testCreateGet(t, newStore(t)) })
			t.Run("update", func(t *testing.T) { testUpdate(t, newStore(t)) })
			t.Run("concurrent updates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
			t.Run("list", func(t *testing.T) { testList(t, newStore(t)) })
			t.Run("leaderboard", func(t *testing.T) { testLeaderboard(t, newStore(t)) })
			t.Run("sweep", func(t *testing.T) { testSweep(t, newStore(t)) })
		})
	}
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown ids return nil, not an error")

	want := newSession("s1", 1, domain.StatusWaiting, t0)
	require.NoError(t, s.Create(ctx, want))

	err = s.Create(ctx, newSession("s1", 2, domain.StatusWaiting, t0))
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))

	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Returned sessions are copies.
	got.Participants[0].Score = 99
	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Participants[0].Score)
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newSession("s1", 1, domain.StatusActive, t0)))

	got, err := s.Update(ctx, "missing", func(*domain.Session) ([]domain.Credit, error) {
		t.Fatal("mutation should not run for unknown ids")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Update(ctx, "s1", func(ss *domain.Session) ([]domain.Credit, error) {
		ss.CurrentQuestionIndex = 3
		return []domain.Credit{{UserID: 1, Username: "u1", Score: 4, Total: 5, At: t0}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentQuestionIndex)

	stats, err := s.UserStats(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalTests)
	assert.Equal(t, int64(80), stats.AveragePercentage)

	// A failing mutation leaves neither the session nor the leaderboard touched.
	_, err = s.Update(ctx, "s1", func(ss *domain.Session) ([]domain.Credit, error) {
		ss.CurrentQuestionIndex = 4
		return []domain.Credit{{UserID: 1, Score: 5, Total: 5, At: t0}}, errors.InvalidState("nope")
	})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	// ErrSkip returns the current state without writing.
	got, err = s.Update(ctx, "s1", func(ss *domain.Session) ([]domain.Credit, error) {
		ss.CurrentQuestionIndex = 5
		return []domain.Credit{{UserID: 1, Score: 5, Total: 5, At: t0}}, store.ErrSkip
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentQuestionIndex)

	stats, err = s.UserStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTests)

	missing, err := s.UserStats(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()

	const n = 20
	ss := newSession("s1", 0, domain.StatusActive, t0)
	ss.Participants = nil
	for i := 1; i <= n; i++ {
		ss.Participants = append(ss.Participants, &domain.Participant{UserID: int64(i)})
	}
	require.NoError(t, s.Create(ctx, ss))

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.Update(ctx, "s1", func(cur *domain.Session) ([]domain.Credit, error) {
				p := cur.Participant(int64(i))
				p.Score = i
				p.CurrentQuestion = i
				return []domain.Credit{{UserID: 1000, Score: 1, Total: 1, At: t0}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		assert.Equal(t, i, got.Participant(int64(i)).Score, "update of participant %d was lost", i)
	}

	stats, err := s.UserStats(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, n, stats.TotalTests, "every credit should be folded exactly once")
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newSession("s1", 1, domain.StatusWaiting, t0)))
	require.NoError(t, s.Create(ctx, newSession("s2", 1, domain.StatusWaiting, t0)))

	ok, err := s.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteIf(ctx, "s2", func(*domain.Session) error { return errors.Forbidden("not yours") })
	assert.True(t, errors.Is(err, errors.CodePermissionDenied))
	assert.False(t, ok)

	got, err := s.Get(ctx, "s2")
	require.NoError(t, err)
	assert.NotNil(t, got)

	ok, err = s.DeleteIf(ctx, "s2", func(*domain.Session) error { return nil })
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteIf(ctx, "s2", func(*domain.Session) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()

	v1, v2 := 1, 2
	fixtures := []*domain.Session{
		newSession("a", 1, domain.StatusWaiting, t0.Add(3*time.Second)),
		newSession("b", 1, domain.StatusActive, t0.Add(1*time.Second)),
		newSession("c", 1, domain.StatusFinished, t0.Add(2*time.Second)),
		newSession("d", 1, domain.StatusWaiting, t0),
	}
	fixtures[3].VariantID = v2
	for _, f := range fixtures {
		require.NoError(t, s.Create(ctx, f))
	}

	tests := map[string]struct {
		filter store.Filter
		want   []string
	}{
		"all sessions ordered by creation": {filter: store.Filter{}, want: []string{"d", "b", "c", "a"}},
		"open sessions": {
			filter: store.Filter{Statuses: []domain.Status{domain.StatusWaiting, domain.StatusActive}},
			want:   []string{"d", "b", "a"},
		},
		"open sessions of a variant": {
			filter: store.Filter{VariantID: &v1, Statuses: []domain.Status{domain.StatusWaiting, domain.StatusActive}},
			want:   []string{"b", "a"},
		},
		"finished sessions": {
			filter: store.Filter{Statuses: []domain.Status{domain.StatusFinished}},
			want:   []string{"c"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, g := range got {
				ids = append(ids, g.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func testLeaderboard(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newSession("s1", 1, domain.StatusActive, t0)))

	empty, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.Update(ctx, "s1", func(*domain.Session) ([]domain.Credit, error) {
		return []domain.Credit{
			{UserID: 2, Username: "u2", Score: 1, Total: 2, At: t0},
			{UserID: 1, Username: "u1", Score: 2, Total: 2, At: t0},
			{UserID: 2, Username: "u2", Score: 2, Total: 2, At: t0},
		}, nil
	})
	require.NoError(t, err)

	es, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, es, 2)
	assert.Equal(t, int64(1), es[0].UserID)
	assert.Equal(t, int64(100), es[0].AveragePercentage)
	assert.Equal(t, int64(2), es[1].UserID)
	assert.Equal(t, 2, es[1].TotalTests)
	assert.Equal(t, int64(75), es[1].AveragePercentage)
	assert.Equal(t, int64(100), es[1].BestScore)
}

func testSweep(t *testing.T, s store.Store) {
	ctx := context.Background()

	old := newSession("old", 1, domain.StatusFinished, t0.Add(-3*time.Hour))
	old.EndTime = ptr(t0.Add(-150 * time.Minute))
	recent := newSession("recent", 1, domain.StatusFinished, t0.Add(-3*time.Hour))
	recent.EndTime = ptr(t0.Add(-10 * time.Minute))
	stale := newSession("active", 1, domain.StatusActive, t0.Add(-5*time.Hour))

	for _, ss := range []*domain.Session{old, recent, stale} {
		require.NoError(t, s.Create(ctx, ss))
	}

	ids, err := s.Sweep(ctx, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	left, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func makeRedisStore(t *testing.T) store.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return store.NewRedis(store.RedisConfig{
		Client:     rc,
		Prefix:     "test",
		MaxRetries: 1000,
	})
}

func newSession(id string, creator int64, st domain.Status, createdAt time.Time) *domain.Session {
	s := &domain.Session{
		ID:            id,
		VariantID:     1,
		VariantName:   "Variant 1",
		QuestionCount: 10,
		WaitingTime:   60,
		Status:        st,
		CreatedBy:     creator,
		CreatedByName: fmt.Sprintf("user %d", creator),
		CreatedAt:     createdAt,
		Participants: []*domain.Participant{
			{UserID: creator, Username: fmt.Sprintf("u%d", creator), Answers: []domain.Answer{}},
		},
	}

	if st != domain.StatusWaiting {
		s.StartTime = ptr(createdAt.Add(time.Minute))
		s.QuestionStartTime = ptr(createdAt.Add(time.Minute))
	}
	if st == domain.StatusFinished {
		s.EndTime = ptr(createdAt.Add(10 * time.Minute))
	}

	return s
}

func ptr[T any](v T) *T {
	return &v
}
