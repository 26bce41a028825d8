package domain

import (
	"time"
)

// Status is the lifecycle state of a session. It only moves forward:
// waiting -> active -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Open reports whether sessions in this status are still discoverable.
func (s Status) Open() bool {
	return s == StatusWaiting || s == StatusActive
}

// Session represents one live, shared quiz run.
type Session struct {
	ID          string `json:"id"`
	VariantID   int    `json:"variantId"`
	VariantName string `json:"variantName"`
	IsRandom    bool   `json:"isRandom"`

	QuestionCount int `json:"questionCount"`
	// QuestionTimeLimit is the per-question deadline in seconds, 0 means unlimited.
	QuestionTimeLimit int `json:"questionTimeLimit"`
	// WaitingTime is how long the lobby waits before auto-start, in seconds.
	WaitingTime int `json:"waitingTime"`

	Status       Status         `json:"status"`
	Participants []*Participant `json:"participants"`

	CreatedBy     int64     `json:"createdBy"`
	CreatedByName string    `json:"createdByName"`
	CreatedAt     time.Time `json:"createdAt"`

	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`

	// CurrentQuestionIndex is a pacing hint for viewers. Participants answer
	// and finish on their own progress, never on this index.
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	QuestionStartTime    *time.Time `json:"questionStartTime"`
}

// Participant is one user's attempt within a session.
type Participant struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`

	CurrentQuestion int        `json:"currentQuestion"`
	Answers         []Answer   `json:"answers"`
	Score           int        `json:"score"`
	FinishedAt      *time.Time `json:"finishedAt"`
	LeftEarly       bool       `json:"leftEarly"`
}

func (p *Participant) Finished() bool {
	return p.FinishedAt != nil
}

// Participant returns the participant with the given user id, or nil.
func (s *Session) Participant(userID int64) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}

	return nil
}

// AllFinished reports whether every participant has a finish time. Participants
// who left early count as finished.
func (s *Session) AllFinished() bool {
	for _, p := range s.Participants {
		if !p.Finished() {
			return false
		}
	}

	return len(s.Participants) > 0
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	c := *s
	c.StartTime = cloneTime(s.StartTime)
	c.EndTime = cloneTime(s.EndTime)
	c.QuestionStartTime = cloneTime(s.QuestionStartTime)
	c.Participants = make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		cp := *p
		if p.Answers != nil {
			cp.Answers = make([]Answer, len(p.Answers))
			copy(cp.Answers, p.Answers)
		}
		cp.FinishedAt = cloneTime(p.FinishedAt)
		c.Participants = append(c.Participants, &cp)
	}

	return &c
}

// Summary is the discovery view of a session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:               s.ID,
		VariantID:        s.VariantID,
		VariantName:      s.VariantName,
		HostName:         s.CreatedByName,
		HostID:           s.CreatedBy,
		ParticipantCount: len(s.Participants),
		Status:           s.Status,
		IsRandom:         s.IsRandom,
		QuestionCount:    s.QuestionCount,
	}
}

type SessionSummary struct {
	ID               string `json:"id"`
	VariantID        int    `json:"variantId"`
	VariantName      string `json:"variantName"`
	HostName         string `json:"hostName"`
	HostID           int64  `json:"hostId"`
	ParticipantCount int    `json:"participantCount"`
	Status           Status `json:"status"`
	IsRandom         bool   `json:"isRandom"`
	QuestionCount    int    `json:"questionCount"`
}

// Variant is the question source of a session. Only its identity and display
// name are used here; question content lives elsewhere.
type Variant struct {
	ID            int    `json:"id" mapstructure:"id"`
	Name          string `json:"name" mapstructure:"name"`
	QuestionCount int    `json:"questionsCount" mapstructure:"questioncount"`
}

// Standing is one row of the live in-session ranking.
type Standing struct {
	Rank            int    `json:"rank"`
	UserID          int64  `json:"userId"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Score           int    `json:"score"`
	CurrentQuestion int    `json:"currentQuestion"`
	Finished        bool   `json:"finished"`
	LeftEarly       bool   `json:"leftEarly"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t
	return &c
}
