package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/firdavs625/groupquiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	SessionUpdated struct {
		Action  string          `json:"action"`
		Session *domain.Session `json:"session"`
	}

	SessionDeleted struct {
		SessionID string `json:"sessionId"`
		Reason    string `json:"reason"`
	}

	LeaderboardUpdated struct {
		Entries []domain.RankedEntry `json:"entries"`
	}
)

// PublishSessionUpdated notifies the session channel of a new session state.
func (a *API) PublishSessionUpdated(ctx context.Context, e domain.EventSessionUpdated) error {
	if a.redis == nil {
		return nil
	}

	return a.publishNotification(ctx, a.sessionChannel(e.Session.ID), e.Name(), SessionUpdated{
		Action:  e.Action,
		Session: &e.Session,
	})
}

func (a *API) PublishSessionDeleted(ctx context.Context, e domain.EventSessionDeleted) error {
	if a.redis == nil {
		return nil
	}

	return a.publishNotification(ctx, a.sessionChannel(e.SessionID), e.Name(), SessionDeleted{
		SessionID: e.SessionID,
		Reason:    e.Reason,
	})
}

// PublishLeaderboardUpdated sends the ranked leaderboard to every ranked
// user's channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	if a.redis == nil {
		return nil
	}

	data := LeaderboardUpdated{Entries: e.Entries}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range e.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.UserID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) sessionChannel(id string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, id)
}

func (a *API) userChannel(id int64) string {
	return fmt.Sprintf("%s:user:%d", a.prefix, id)
}
