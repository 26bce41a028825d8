package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
)

const defaultMaxRetries = 32

type RedisConfig struct {
	Client redis.UniversalClient
	Prefix string
	// MaxRetries bounds optimistic transaction retries per call.
	MaxRetries int
}

// Redis stores sessions as JSON strings and the leaderboard as a hash of JSON
// entries, so several instances can share state. Critical sections are
// WATCH/MULTI/EXEC transactions retried on conflict.
//
// All keys share the {prefix} hash tag so multi-key transactions stay on one
// cluster slot.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewRedis(c RedisConfig) *Redis {
	r := &Redis{
		client:     c.Client,
		prefix:     c.Prefix,
		maxRetries: c.MaxRetries,
	}

	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}

	return r
}

func (r *Redis) Create(ctx context.Context, s *domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var created *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		created = p.SetNX(ctx, r.sessionKey(s.ID), b, 0)
		p.SAdd(ctx, r.indexKey(), s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if !created.Val() {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session %s already exists", s.ID))
	}

	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*domain.Session, error) {
	return r.load(ctx, r.client, id)
}

func (r *Redis) Update(ctx context.Context, id string, mut Mutation) (*domain.Session, error) {
	var out *domain.Session

	txf := func(tx *redis.Tx) error {
		out = nil

		cur, err := r.load(ctx, tx, id)
		if err != nil || cur == nil {
			return err
		}

		next := cur.Clone()
		credits, err := mut(next)
		if stderrors.Is(err, ErrSkip) {
			out = cur
			return nil
		}
		if err != nil {
			return err
		}

		entries, err := r.fold(ctx, tx, credits)
		if err != nil {
			return err
		}

		b, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, r.sessionKey(id), b, 0)
			for _, e := range entries {
				eb, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("marshal leaderboard entry: %w", err)
				}
				p.HSet(ctx, r.leaderboardKey(), userField(e.UserID), eb)
			}
			return nil
		})
		if err != nil {
			return err
		}

		out = next
		return nil
	}

	if err := r.watch(ctx, txf, r.sessionKey(id), r.leaderboardKey()); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Redis) Delete(ctx context.Context, id string) (bool, error) {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		deleted = p.Del(ctx, r.sessionKey(id))
		p.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	return deleted.Val() > 0, nil
}

func (r *Redis) DeleteIf(ctx context.Context, id string, check func(s *domain.Session) error) (bool, error) {
	var deleted bool

	txf := func(tx *redis.Tx) error {
		deleted = false

		cur, err := r.load(ctx, tx, id)
		if err != nil || cur == nil {
			return err
		}

		if err := check(cur); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.sessionKey(id))
			p.SRem(ctx, r.indexKey(), id)
			return nil
		})
		if err != nil {
			return err
		}

		deleted = true
		return nil
	}

	if err := r.watch(ctx, txf, r.sessionKey(id)); err != nil {
		return false, err
	}

	return deleted, nil
}

func (r *Redis) List(ctx context.Context, f Filter) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Session{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.sessionKey(id))
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	ss := make([]*domain.Session, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}

		var s domain.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}

		if f.Match(&s) {
			ss = append(ss, &s)
		}
	}

	sortSessions(ss)
	return ss, nil
}

func (r *Redis) Leaderboard(ctx context.Context) ([]domain.GlobalEntry, error) {
	raw, err := r.client.HGetAll(ctx, r.leaderboardKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	es := make([]domain.GlobalEntry, 0, len(raw))
	for _, v := range raw {
		var e domain.GlobalEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("unmarshal leaderboard entry: %w", err)
		}
		es = append(es, e)
	}

	sortEntries(es)
	return es, nil
}

func (r *Redis) UserStats(ctx context.Context, userID int64) (*domain.GlobalEntry, error) {
	raw, err := r.client.HGet(ctx, r.leaderboardKey(), userField(userID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load leaderboard entry: %w", err)
	}

	var e domain.GlobalEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("unmarshal leaderboard entry: %w", err)
	}

	return &e, nil
}

func (r *Redis) Sweep(ctx context.Context, before time.Time) ([]string, error) {
	ss, err := r.List(ctx, Filter{Statuses: []domain.Status{domain.StatusFinished}})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, s := range ss {
		if !expired(s, before) {
			continue
		}

		// Re-checked under WATCH so an in-flight write to the session wins.
		ok, err := r.DeleteIf(ctx, s.ID, func(cur *domain.Session) error {
			if !expired(cur, before) {
				return ErrSkip
			}
			return nil
		})
		if stderrors.Is(err, ErrSkip) {
			continue
		}
		if err != nil {
			return ids, fmt.Errorf("sweep session %s: %w", s.ID, err)
		}

		if ok {
			ids = append(ids, s.ID)
		}
	}

	return ids, nil
}

// fold reads the current entries of every credited user through the watched
// transaction and applies the credits to them.
func (r *Redis) fold(ctx context.Context, tx *redis.Tx, credits []domain.Credit) ([]*domain.GlobalEntry, error) {
	var (
		entries = make(map[int64]*domain.GlobalEntry, len(credits))
		order   []*domain.GlobalEntry
	)

	for _, c := range credits {
		e, ok := entries[c.UserID]
		if !ok {
			e = &domain.GlobalEntry{}

			raw, err := tx.HGet(ctx, r.leaderboardKey(), userField(c.UserID)).Result()
			switch {
			case stderrors.Is(err, redis.Nil):
			case err != nil:
				return nil, fmt.Errorf("load leaderboard entry: %w", err)
			default:
				if err := json.Unmarshal([]byte(raw), e); err != nil {
					return nil, fmt.Errorf("unmarshal leaderboard entry: %w", err)
				}
			}

			entries[c.UserID] = e
			order = append(order, e)
		}

		e.Apply(c)
	}

	return order, nil
}

func (r *Redis) watch(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, keys...)
		if !stderrors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return ErrConflict
}

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) load(ctx context.Context, c getter, id string) (*domain.Session, error) {
	raw, err := c.Get(ctx, r.sessionKey(id)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	return &s, nil
}

func (r *Redis) sessionKey(id string) string {
	return fmt.Sprintf("{%s}:session:%s", r.prefix, id)
}

func (r *Redis) indexKey() string {
	return fmt.Sprintf("{%s}:sessions", r.prefix)
}

func (r *Redis) leaderboardKey() string {
	return fmt.Sprintf("{%s}:leaderboard", r.prefix)
}

func userField(id int64) string {
	return strconv.FormatInt(id, 10)
}
