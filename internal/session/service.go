package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/event"
	"github.com/firdavs625/groupquiz/internal/store"
	"github.com/firdavs625/groupquiz/internal/telemetry"
)

const (
	defaultQuestionCount = 10
	randomVariantName    = "Random Test"
)

// VariantProvider resolves the question source of a session. It returns nil
// for unknown ids.
type VariantProvider interface {
	GetVariantByID(ctx context.Context, id int) (*domain.Variant, error)
}

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Variants VariantProvider
	// DefaultQuestionCount is used for random sessions created without a count.
	DefaultQuestionCount int
	Now                  func() time.Time
	NewID                func() (string, error)
}

// Service runs the session lifecycle (waiting -> active -> finished) and
// reconciles participant progress. Each operation is a single store
// mutation; events are published only after the write succeeded.
type Service struct {
	store    store.Store
	eb       *event.Bus
	variants VariantProvider
	defaultQ int
	now      func() time.Time
	newID    func() (string, error)
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		eb:       c.EventBus,
		variants: c.Variants,
		defaultQ: c.DefaultQuestionCount,
		now:      c.Now,
		newID:    c.NewID,
	}

	if s.defaultQ <= 0 {
		s.defaultQ = defaultQuestionCount
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newSessionID
	}

	return s
}

// CreateSessionRequest represents a request to create a new quiz session.
type CreateSessionRequest struct {
	VariantID int
	IsRandom  bool
	// QuestionCount defaults to the variant size, or to the configured
	// default for random sessions.
	QuestionCount int
	// WaitingTime is the lobby countdown in seconds.
	WaitingTime int
	// QuestionTimeLimit is the per-question limit in seconds, 0 for none.
	QuestionTimeLimit int

	UserID   int64
	Username string
	Name     string
}

func (r CreateSessionRequest) validate() error {
	switch {
	case r.UserID == 0:
		return errors.Invalid("userId is required")
	case r.WaitingTime <= 0:
		return errors.Invalid("waitingTime must be positive")
	case r.QuestionCount < 0:
		return errors.Invalid("questionCount must not be negative")
	case r.QuestionTimeLimit < 0:
		return errors.Invalid("questionTimeLimit must not be negative")
	case !r.IsRandom && r.VariantID <= 0:
		return errors.Invalid("variantId is required unless isRandom is set")
	}

	return nil
}

// CreateSession creates a session in waiting status with the creator as its
// only participant.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ss := &domain.Session{
		VariantName:       randomVariantName,
		IsRandom:          req.IsRandom,
		QuestionCount:     req.QuestionCount,
		QuestionTimeLimit: req.QuestionTimeLimit,
		WaitingTime:       req.WaitingTime,
		Status:            domain.StatusWaiting,
		Participants:      []*domain.Participant{newParticipant(req.UserID, req.Username, req.Name)},
		CreatedBy:         req.UserID,
		CreatedByName:     displayName(req.Username, req.Name),
		CreatedAt:         s.now(),
	}

	if !req.IsRandom {
		v, err := s.variants.GetVariantByID(ctx, req.VariantID)
		if err != nil {
			return nil, fmt.Errorf("get variant %d: %w", req.VariantID, err)
		}
		if v == nil {
			return nil, errors.NotFound("variant %d not found", req.VariantID)
		}

		ss.VariantID = v.ID
		ss.VariantName = v.Name
		if ss.QuestionCount == 0 {
			ss.QuestionCount = v.QuestionCount
		}
	}

	if ss.QuestionCount == 0 {
		ss.QuestionCount = s.defaultQ
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}
	ss.ID = id

	if err := s.store.Create(ctx, ss); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.InfoContext(ctx, "session: created", "session", ss.ID, "creator", ss.CreatedBy, "variant", ss.VariantID)
	s.publishUpdated(ctx, ActionCreate, ss)

	return ss, nil
}

type GetSessionRequest struct {
	SessionID string
}

// GetSession returns the session after applying any elapsed deadline: the
// lobby auto-start and, with a question time limit, the auto-advance. There is
// no timer; deadlines are observed by whoever polls first, so a transition can
// lag its nominal deadline by up to one polling interval.
func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Session, error) {
	ss, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if dueDeadline(ss, s.now()) == "" {
		return ss, nil
	}

	var action string
	ss, err = s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		action = applyDeadline(cur, s.now())
		if action == "" {
			return nil, store.ErrSkip
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply deadlines: %w", err)
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if action != "" {
		slog.InfoContext(ctx, "session: deadline elapsed", "session", ss.ID, "action", action, "question", ss.CurrentQuestionIndex)
		s.publishUpdated(ctx, action, ss)
	}

	return ss, nil
}

// ListSessions returns every session, whatever its status.
func (s *Service) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	ss, err := s.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return ss, nil
}

// ListOpenSessions returns discovery summaries of waiting and active sessions.
func (s *Service) ListOpenSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	ss, err := s.store.List(ctx, store.Filter{Statuses: openStatuses()})
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}

	out := make([]domain.SessionSummary, 0, len(ss))
	for _, x := range ss {
		out = append(out, x.Summary())
	}

	return out, nil
}

// ListVariantSessions returns the waiting and active sessions of one variant.
func (s *Service) ListVariantSessions(ctx context.Context, variantID int) ([]*domain.Session, error) {
	ss, err := s.store.List(ctx, store.Filter{VariantID: &variantID, Statuses: openStatuses()})
	if err != nil {
		return nil, fmt.Errorf("list variant sessions: %w", err)
	}

	return ss, nil
}

type JoinSessionRequest struct {
	SessionID string
	UserID    int64
	Username  string
	Name      string
}

// JoinSession adds a participant while the session is waiting. Joining twice
// while waiting is a no-op that returns the current session.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*domain.Session, error) {
	if req.UserID == 0 {
		return nil, errors.Invalid("userId is required")
	}

	var joined bool
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		joined = false

		applyDeadline(cur, s.now())
		if cur.Status != domain.StatusWaiting {
			return nil, errors.InvalidState("session %s is %s, participants can only join while it is waiting", cur.ID, cur.Status)
		}
		if cur.Participant(req.UserID) != nil {
			return nil, store.ErrSkip
		}

		cur.Participants = append(cur.Participants, newParticipant(req.UserID, req.Username, req.Name))
		joined = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if joined {
		slog.InfoContext(ctx, "session: participant joined", "session", ss.ID, "user", req.UserID, "participants", len(ss.Participants))
		s.publishUpdated(ctx, ActionJoin, ss)
	}

	return ss, nil
}

type StartSessionRequest struct {
	SessionID string
	UserID    int64
}

// StartSession moves a waiting session to active on the creator's request.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*domain.Session, error) {
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		if cur.CreatedBy != req.UserID {
			return nil, errors.Forbidden("only the creator can start session %s", cur.ID)
		}
		if cur.Status != domain.StatusWaiting {
			return nil, errors.InvalidState("session %s is %s, only a waiting session can be started", cur.ID, cur.Status)
		}

		start(cur, s.now())
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	slog.InfoContext(ctx, "session: started", "session", ss.ID, "participants", len(ss.Participants))
	s.publishUpdated(ctx, ActionStart, ss)

	return ss, nil
}

type NextQuestionRequest struct {
	SessionID string
	// ExpectedIndex, when set, is the index the caller believes is current.
	// If another viewer already advanced past it the call is a no-op.
	ExpectedIndex *int
}

// NextQuestion advances the shared question pointer of an active session.
// The pointer only paces viewers; participants keep their own progress.
func (s *Service) NextQuestion(ctx context.Context, req NextQuestionRequest) (*domain.Session, error) {
	var advanced bool
	ss, err := s.store.Update(ctx, req.SessionID, func(cur *domain.Session) ([]domain.Credit, error) {
		advanced = false

		if cur.Status != domain.StatusActive {
			return nil, errors.InvalidState("session %s is %s, questions only advance while it is active", cur.ID, cur.Status)
		}
		if req.ExpectedIndex != nil && *req.ExpectedIndex != cur.CurrentQuestionIndex {
			return nil, store.ErrSkip
		}
		if cur.CurrentQuestionIndex >= cur.QuestionCount-1 {
			return nil, errors.InvalidState("session %s is already on its last question", cur.ID)
		}

		now := s.now()
		cur.CurrentQuestionIndex++
		cur.QuestionStartTime = &now
		advanced = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, sessionNotFound(req.SessionID)
	}

	if advanced {
		s.publishUpdated(ctx, ActionNextQuestion, ss)
	}

	return ss, nil
}

type CancelSessionRequest struct {
	SessionID string
	UserID    int64
}

// CancelSession deletes a waiting session on the creator's request. Cancelled
// sessions leave no record behind.
func (s *Service) CancelSession(ctx context.Context, req CancelSessionRequest) error {
	ok, err := s.store.DeleteIf(ctx, req.SessionID, func(cur *domain.Session) error {
		if cur.CreatedBy != req.UserID {
			return errors.Forbidden("only the creator can cancel session %s", cur.ID)
		}
		if cur.Status != domain.StatusWaiting {
			return errors.InvalidState("session %s is %s, only a waiting session can be cancelled", cur.ID, cur.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return sessionNotFound(req.SessionID)
	}

	slog.InfoContext(ctx, "session: cancelled", "session", req.SessionID)
	s.eb.Publish(ctx, domain.EventSessionDeleted{SessionID: req.SessionID, Reason: ActionCancel})

	return nil
}

type DeleteSessionRequest struct {
	SessionID string
	UserID    int64
}

// DeleteSession removes a session in any status on the creator's request.
func (s *Service) DeleteSession(ctx context.Context, req DeleteSessionRequest) error {
	ok, err := s.store.DeleteIf(ctx, req.SessionID, func(cur *domain.Session) error {
		if cur.CreatedBy != req.UserID {
			return errors.Forbidden("only the creator can delete session %s", cur.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return sessionNotFound(req.SessionID)
	}

	slog.InfoContext(ctx, "session: deleted", "session", req.SessionID)
	s.eb.Publish(ctx, domain.EventSessionDeleted{SessionID: req.SessionID, Reason: ActionDelete})

	return nil
}

// SessionSwept publishes the removal of a session by the retention sweep.
func (s *Service) SessionSwept(ctx context.Context, id string) {
	s.eb.Publish(ctx, domain.EventSessionDeleted{SessionID: id, Reason: "expired"})
}

func (s *Service) publishUpdated(ctx context.Context, action string, ss *domain.Session) {
	s.eb.Publish(ctx, domain.EventSessionUpdated{Action: action, Session: *ss.Clone()})
}

func (s *Service) publishCredits(ctx context.Context, sessionID string, credits []domain.Credit) {
	telemetry.LeaderboardCredits.Add(float64(len(credits)))
	for _, c := range credits {
		s.eb.Publish(ctx, domain.EventParticipantFinished{SessionID: sessionID, Credit: c})
	}
}

func (s *Service) publishFinished(ctx context.Context, ss *domain.Session) {
	slog.InfoContext(ctx, "session: finished", "session", ss.ID, "participants", len(ss.Participants))
	s.eb.Publish(ctx, domain.EventSessionFinished{Session: *ss.Clone()})
}

func start(ss *domain.Session, now time.Time) {
	ss.Status = domain.StatusActive
	ss.StartTime = &now
	ss.CurrentQuestionIndex = 0
	ss.QuestionStartTime = &now
}

func finish(ss *domain.Session, now time.Time) {
	ss.Status = domain.StatusFinished
	ss.EndTime = &now
}

func newParticipant(userID int64, username, name string) *domain.Participant {
	return &domain.Participant{
		UserID:   userID,
		Username: username,
		Name:     displayName(username, name),
		Answers:  []domain.Answer{},
	}
}

func displayName(username, name string) string {
	if name != "" {
		return name
	}
	return username
}

func openStatuses() []domain.Status {
	return []domain.Status{domain.StatusWaiting, domain.StatusActive}
}

func sessionNotFound(id string) error {
	return errors.NotFound("session %s not found", id)
}

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
