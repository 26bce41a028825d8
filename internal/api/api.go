package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/firdavs625/groupquiz/internal/archive"
	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/event"
	"github.com/firdavs625/groupquiz/internal/leaderboard"
	"github.com/firdavs625/groupquiz/internal/session"
	"github.com/firdavs625/groupquiz/internal/variant"
)

type Config struct {
	Router      gin.IRouter
	EventBus    *event.Bus
	Session     *session.Service
	Leaderboard *leaderboard.Service
	Variants    *variant.Catalog
	// Archive is optional; without it /history is not served.
	Archive *archive.Service
	// Redis is optional; without it no pubsub notifications are sent.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qss *session.Service
	ls  *leaderboard.Service
	vc  *variant.Catalog
	as  *archive.Service
	hub *Hub

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		qss:    c.Session,
		ls:     c.Leaderboard,
		vc:     c.Variants,
		as:     c.Archive,
		hub:    NewHub(),
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	r := c.Router
	r.POST("/sessions", a.CreateSession)
	r.GET("/sessions", a.GetSessions)
	r.PUT("/sessions", a.UpdateSession)
	r.DELETE("/sessions", a.DeleteSession)
	r.GET("/sessions/ranking", a.GetSessionRanking)
	r.GET("/sessions/:id/ws", a.WatchSession)
	r.GET("/leaderboard", a.GetLeaderboard)
	r.GET("/leaderboard/:userId", a.GetUserStats)
	r.GET("/variants", a.ListVariants)
	if a.as != nil {
		r.GET("/history", a.ListHistory)
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameSessionUpdated, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSessionUpdated)
		a.hub.Broadcast(ev.Session.ID, e.Name(), SessionUpdated{Action: ev.Action, Session: &ev.Session})
		return a.PublishSessionUpdated(ctx, ev)
	})

	c.EventBus.Subscribe(domain.EventNameSessionDeleted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSessionDeleted)
		a.hub.Close(ev.SessionID, e.Name(), SessionDeleted{SessionID: ev.SessionID, Reason: ev.Reason})
		return a.PublishSessionDeleted(ctx, ev)
	})

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

// Hub returns the websocket hub serving session watchers.
func (a *API) Hub() *Hub {
	return a.hub
}

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

// fail writes err as a structured failure. Errors without a code are logged
// and reported as a generic internal error.
func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.JSON(e.HTTPStatusCode(), gin.H{
		"success": false,
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
