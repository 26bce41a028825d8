package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/store"
)

type UpdateProgressRequest struct {
	SessionID       string
	UserID          int64
	CurrentQuestion int
	Answers         []domain.Answer
	Score           int
}

func (r UpdateProgressRequest) validate() error {
	switch {
	case r.CurrentQuestion < 0:
		return errors.Invalid("currentQuestion must not be negative")
	case len(r.Answers) != r.CurrentQuestion:
		return errors.Invalid("got %d answers for currentQuestion %d", len(r.Answers), r.CurrentQuestion)
	}

	return validateScore(r.Score, len(r.Answers))
}

// UpdateProgress overwrites a participant's running progress. Reports are
// applied last-writer-wins per participant, except that a report behind the
// stored one (fewer answers or a lower score) is ignored and nothing changes
// once the participant finished.
func (s *Service) UpdateProgress(ctx context.Context, req UpdateProgressRequest) (*domain.Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var applied bool
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		applied = false

		p := cur.Participant(req.UserID)
		if p == nil {
			return nil, participantNotFound(cur.ID, req.UserID)
		}
		if p.Finished() {
			return nil, store.ErrSkip
		}
		if cur.Status != domain.StatusActive {
			return nil, errors.InvalidState("session %s is %s, progress is only accepted while it is active", cur.ID, cur.Status)
		}
		if req.CurrentQuestion > cur.QuestionCount {
			return nil, errors.Invalid("currentQuestion %d is past the %d questions of session %s", req.CurrentQuestion, cur.QuestionCount, cur.ID)
		}
		if req.CurrentQuestion < p.CurrentQuestion || req.Score < p.Score {
			return nil, store.ErrSkip
		}

		p.CurrentQuestion = req.CurrentQuestion
		p.Answers = cloneAnswers(req.Answers)
		p.Score = req.Score
		applied = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if applied {
		s.publishUpdated(ctx, ActionProgress, ss)
	}

	return ss, nil
}

type FinishRequest struct {
	SessionID string
	UserID    int64
	Answers   []domain.Answer
	Score     int
	// FinishedAt defaults to the current time.
	FinishedAt *time.Time
	LeftEarly  bool
}

// FinishParticipant records a participant's final answers and credits the
// result to the global leaderboard in the same write. A second finish for the
// same participant is a no-op, so the leaderboard is credited exactly once.
// When the last participant finishes the session becomes finished.
func (s *Service) FinishParticipant(ctx context.Context, req FinishRequest) (*domain.Session, error) {
	if err := validateScore(req.Score, len(req.Answers)); err != nil {
		return nil, err
	}

	var (
		credits []domain.Credit
		ended   bool
	)
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		credits, ended = nil, false

		p := cur.Participant(req.UserID)
		if p == nil {
			return nil, participantNotFound(cur.ID, req.UserID)
		}
		if p.Finished() {
			return nil, store.ErrSkip
		}
		if cur.Status != domain.StatusActive {
			return nil, errors.InvalidState("session %s is %s, participants can only finish while it is active", cur.ID, cur.Status)
		}
		if len(req.Answers) > cur.QuestionCount {
			return nil, errors.Invalid("got %d answers for the %d questions of session %s", len(req.Answers), cur.QuestionCount, cur.ID)
		}

		now := s.now()
		at := now
		if req.FinishedAt != nil {
			at = *req.FinishedAt
		}

		// Progress never moves backwards: a final report behind the stored
		// progress keeps the stored answers or score.
		if len(req.Answers) >= p.CurrentQuestion {
			p.Answers = cloneAnswers(req.Answers)
			p.CurrentQuestion = len(req.Answers)
		}
		p.Score = max(p.Score, req.Score)
		p.FinishedAt = &at
		p.LeftEarly = req.LeftEarly
		credits = []domain.Credit{credit(p, cur.QuestionCount, at)}

		if cur.AllFinished() {
			finish(cur, now)
			ended = true
		}
		return credits, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if len(credits) > 0 {
		slog.InfoContext(ctx, "session: participant finished", "session", ss.ID, "user", req.UserID, "score", req.Score)
		s.publishUpdated(ctx, ActionFinish, ss)
		s.publishCredits(ctx, ss.ID, credits)
	}
	if ended {
		s.publishFinished(ctx, ss)
	}

	return ss, nil
}

type LeaveRequest struct {
	SessionID string
	UserID    int64
}

// LeaveSession marks a participant as finished without crediting the
// leaderboard. It closes the session like a regular finish would.
func (s *Service) LeaveSession(ctx context.Context, req LeaveRequest) (*domain.Session, error) {
	var left, ended bool
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		left, ended = false, false

		p := cur.Participant(req.UserID)
		if p == nil {
			return nil, participantNotFound(cur.ID, req.UserID)
		}
		if p.Finished() {
			return nil, store.ErrSkip
		}
		if cur.Status != domain.StatusActive {
			return nil, errors.InvalidState("session %s is %s, participants can only leave while it is active", cur.ID, cur.Status)
		}

		now := s.now()
		p.FinishedAt = &now
		p.LeftEarly = true
		left = true

		if cur.AllFinished() {
			finish(cur, now)
			ended = true
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if left {
		slog.InfoContext(ctx, "session: participant left", "session", ss.ID, "user", req.UserID)
		s.publishUpdated(ctx, ActionLeave, ss)
	}
	if ended {
		s.publishFinished(ctx, ss)
	}

	return ss, nil
}

type ForceFinishRequest struct {
	SessionID string
	UserID    int64
}

// ForceFinish ends an active session on the creator's request. Everyone still
// playing is finished with their current progress and credited. Forcing an
// already finished session is a no-op.
func (s *Service) ForceFinish(ctx context.Context, req ForceFinishRequest) (*domain.Session, error) {
	var credits []domain.Credit
	var ended bool
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		credits, ended = nil, false

		if cur.CreatedBy != req.UserID {
			return nil, errors.Forbidden("only the creator can finish session %s", cur.ID)
		}
		if cur.Status == domain.StatusFinished {
			return nil, store.ErrSkip
		}
		if cur.Status != domain.StatusActive {
			return nil, errors.InvalidState("session %s is %s, only an active session can be finished", cur.ID, cur.Status)
		}

		now := s.now()
		for _, p := range cur.Participants {
			if p.Finished() {
				continue
			}
			p.FinishedAt = &now
			credits = append(credits, credit(p, cur.QuestionCount, now))
		}

		finish(cur, now)
		ended = true
		return credits, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if ended {
		slog.InfoContext(ctx, "session: force finished", "session", ss.ID, "credited", len(credits))
		s.publishUpdated(ctx, ActionForceFinish, ss)
		s.publishCredits(ctx, ss.ID, credits)
		s.publishFinished(ctx, ss)
	}

	return ss, nil
}

func credit(p *domain.Participant, total int, at time.Time) domain.Credit {
	return domain.Credit{
		UserID:   p.UserID,
		Username: p.Username,
		Name:     p.Name,
		Score:    p.Score,
		Total:    total,
		At:       at,
	}
}

func validateScore(score, answers int) error {
	switch {
	case score < 0:
		return errors.Invalid("score must not be negative")
	case score > answers:
		return errors.Invalid("score %d exceeds the %d answers given", score, answers)
	}

	return nil
}

func participantNotFound(sessionID string, userID int64) error {
	return errors.NotFound("user %d is not a participant of session %s", userID, sessionID)
}

func cloneAnswers(in []domain.Answer) []domain.Answer {
	out := make([]domain.Answer, len(in))
	copy(out, in)
	return out
}
