package domain

const (
	EventNameSessionUpdated      = "session.updated"
	EventNameSessionDeleted      = "session.deleted"
	EventNameSessionFinished     = "session.finished"
	EventNameParticipantFinished = "participant.finished"
	EventNameLeaderboardUpdated  = "leaderboard.updated"
)

// EventSessionUpdated carries the session state after a successful write.
type EventSessionUpdated struct {
	Action  string
	Session Session
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

type EventSessionDeleted struct {
	SessionID string
	Reason    string
}

func (EventSessionDeleted) Name() string { return EventNameSessionDeleted }

// EventSessionFinished is published once, on the transition to finished.
type EventSessionFinished struct {
	Session Session
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

// EventParticipantFinished is published for every credit folded into the
// global leaderboard.
type EventParticipantFinished struct {
	SessionID string
	Credit    Credit
}

func (EventParticipantFinished) Name() string { return EventNameParticipantFinished }

type EventLeaderboardUpdated struct {
	Entries []RankedEntry
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
