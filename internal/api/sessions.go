package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/session"
	"github.com/firdavs625/groupquiz/internal/telemetry"
)

type createSessionBody struct {
	VariantID         int    `json:"variantId"`
	IsRandom          bool   `json:"isRandom"`
	QuestionCount     int    `json:"questionCount"`
	WaitingTime       int    `json:"waitingTime"`
	QuestionTimeLimit int    `json:"questionTimeLimit"`
	UserID            int64  `json:"userId"`
	Username          string `json:"username"`
	Name              string `json:"name"`
}

func (a *API) CreateSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		a.done(c, "create", errors.Invalid("invalid body: %v", err))
		return
	}

	ss, err := a.qss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		VariantID:         body.VariantID,
		IsRandom:          body.IsRandom,
		QuestionCount:     body.QuestionCount,
		WaitingTime:       body.WaitingTime,
		QuestionTimeLimit: body.QuestionTimeLimit,
		UserID:            body.UserID,
		Username:          body.Username,
		Name:              body.Name,
	})
	if err != nil {
		a.done(c, "create", err)
		return
	}

	a.done(c, "create", nil)
	ok(c, gin.H{"session": ss})
}

// GetSessions serves a point lookup (sessionId), open sessions (active=true),
// a variant's open sessions (variantId) or, without parameters, every session.
func (a *API) GetSessions(c *gin.Context) {
	ctx := c.Request.Context()

	if id := c.Query("sessionId"); id != "" {
		ss, err := a.qss.GetSession(ctx, session.GetSessionRequest{SessionID: id})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"session": ss})
		return
	}

	if c.Query("active") == "true" {
		ss, err := a.qss.ListOpenSessions(ctx)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"sessions": ss})
		return
	}

	if v := c.Query("variantId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			fail(c, errors.Invalid("variantId must be a number"))
			return
		}

		ss, err := a.qss.ListVariantSessions(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"sessions": ss})
		return
	}

	ss, err := a.qss.ListSessions(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"sessions": ss})
}

type updateSessionBody struct {
	SessionID string `json:"sessionId" binding:"required"`
	Action    string `json:"action" binding:"required"`

	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`

	CurrentQuestion int             `json:"currentQuestion"`
	Answers         []domain.Answer `json:"answers"`
	Score           int             `json:"score"`
	FinishedAt      *time.Time      `json:"finishedAt"`
	LeftEarly       bool            `json:"leftEarly"`

	// CurrentQuestionIndex is the index a nextQuestion caller is advancing from.
	CurrentQuestionIndex *int `json:"currentQuestionIndex"`
}

// UpdateSession dispatches a session action.
func (a *API) UpdateSession(c *gin.Context) {
	var body updateSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		a.done(c, "unknown", errors.Invalid("sessionId and action are required: %v", err))
		return
	}

	ctx := c.Request.Context()
	var (
		ss  *domain.Session
		err error
	)

	switch body.Action {
	case session.ActionJoin:
		ss, err = a.qss.JoinSession(ctx, session.JoinSessionRequest{
			SessionID: body.SessionID,
			UserID:    body.UserID,
			Username:  body.Username,
			Name:      body.Name,
		})

	case session.ActionStart:
		ss, err = a.qss.StartSession(ctx, session.StartSessionRequest{
			SessionID: body.SessionID,
			UserID:    body.UserID,
		})

	case session.ActionNextQuestion:
		ss, err = a.qss.NextQuestion(ctx, session.NextQuestionRequest{
			SessionID:     body.SessionID,
			ExpectedIndex: body.CurrentQuestionIndex,
		})

	case session.ActionProgress:
		ss, err = a.qss.UpdateProgress(ctx, session.UpdateProgressRequest{
			SessionID:       body.SessionID,
			UserID:          body.UserID,
			CurrentQuestion: body.CurrentQuestion,
			Answers:         body.Answers,
			Score:           body.Score,
		})

	case session.ActionLeave:
		ss, err = a.qss.LeaveSession(ctx, session.LeaveRequest{
			SessionID: body.SessionID,
			UserID:    body.UserID,
		})

	case session.ActionFinish:
		ss, err = a.qss.FinishParticipant(ctx, session.FinishRequest{
			SessionID:  body.SessionID,
			UserID:     body.UserID,
			Answers:    body.Answers,
			Score:      body.Score,
			FinishedAt: body.FinishedAt,
			LeftEarly:  body.LeftEarly,
		})

	case session.ActionForceFinish:
		ss, err = a.qss.ForceFinish(ctx, session.ForceFinishRequest{
			SessionID: body.SessionID,
			UserID:    body.UserID,
		})

	case session.ActionCancel:
		err = a.qss.CancelSession(ctx, session.CancelSessionRequest{
			SessionID: body.SessionID,
			UserID:    body.UserID,
		})
		a.done(c, body.Action, err)
		if err == nil {
			ok(c, gin.H{"message": "session cancelled"})
		}
		return

	default:
		a.done(c, "unknown", errors.Invalid("unknown action %q", body.Action))
		return
	}

	a.done(c, body.Action, err)
	if err == nil {
		ok(c, gin.H{"session": ss})
	}
}

// DeleteSession removes a session on its creator's request.
func (a *API) DeleteSession(c *gin.Context) {
	id := c.Query("sessionId")
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if id == "" || err != nil {
		a.done(c, session.ActionDelete, errors.Invalid("sessionId and userId are required"))
		return
	}

	err = a.qss.DeleteSession(c.Request.Context(), session.DeleteSessionRequest{
		SessionID: id,
		UserID:    userID,
	})
	a.done(c, session.ActionDelete, err)
	if err == nil {
		ok(c, gin.H{"message": "session deleted"})
	}
}

// done records the action outcome and writes the failure, if any.
func (a *API) done(c *gin.Context, action string, err error) {
	code := "OK"
	if err != nil {
		code = errors.Convert(err).Code.String()
	}
	telemetry.SessionActions.WithLabelValues(action, code).Inc()

	if err != nil {
		fail(c, err)
	}
}
