package session

import (
	"time"

	"github.com/firdavs625/groupquiz/internal/domain"
)

// Actions carried by session.updated events.
const (
	ActionCreate       = "create"
	ActionJoin         = "join"
	ActionStart        = "start"
	ActionAutoStart    = "autoStart"
	ActionNextQuestion = "nextQuestion"
	ActionAutoAdvance  = "autoAdvance"
	ActionProgress     = "updateProgress"
	ActionFinish       = "finish"
	ActionLeave        = "leave"
	ActionForceFinish  = "forceFinish"
	ActionCancel       = "cancel"
	ActionDelete       = "delete"
)

// dueDeadline returns the action an elapsed deadline calls for, or "".
func dueDeadline(ss *domain.Session, now time.Time) string {
	switch ss.Status {
	case domain.StatusWaiting:
		if ss.WaitingTime > 0 && !now.Before(ss.CreatedAt.Add(seconds(ss.WaitingTime))) {
			return ActionAutoStart
		}
	case domain.StatusActive:
		if advanceSteps(ss, now) > 0 {
			return ActionAutoAdvance
		}
	}

	return ""
}

// applyDeadline moves the session past any elapsed deadline and returns the
// action taken. Several elapsed question intervals are caught up at once; the
// question pointer never passes the last question.
func applyDeadline(ss *domain.Session, now time.Time) string {
	action := dueDeadline(ss, now)

	switch action {
	case ActionAutoStart:
		start(ss, now)
	case ActionAutoAdvance:
		steps := advanceSteps(ss, now)
		qs := ss.QuestionStartTime.Add(time.Duration(steps) * seconds(ss.QuestionTimeLimit))
		ss.CurrentQuestionIndex += steps
		ss.QuestionStartTime = &qs
	}

	return action
}

func advanceSteps(ss *domain.Session, now time.Time) int {
	if ss.QuestionTimeLimit <= 0 || ss.QuestionStartTime == nil {
		return 0
	}

	left := ss.QuestionCount - 1 - ss.CurrentQuestionIndex
	if left <= 0 {
		return 0
	}

	steps := int(now.Sub(*ss.QuestionStartTime) / seconds(ss.QuestionTimeLimit))
	return max(0, min(steps, left))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
