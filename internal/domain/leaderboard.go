package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credit is one finished attempt folded into the global leaderboard.
type Credit struct {
	UserID   int64
	Username string
	Name     string
	Score    int
	Total    int
	At       time.Time
}

// GlobalEntry is a user's aggregate across every session they completed.
type GlobalEntry struct {
	UserID            int64     `json:"userId"`
	Username          string    `json:"username"`
	Name              string    `json:"name"`
	TotalTests        int       `json:"totalTests"`
	TotalScore        int       `json:"totalScore"`
	TotalQuestions    int       `json:"totalQuestions"`
	AveragePercentage int64     `json:"averagePercentage"`
	BestScore         int64     `json:"bestScore"`
	LastTestDate      time.Time `json:"lastTestDate"`
}

// Apply folds c into the entry. A zero entry becomes the user's first result.
func (e *GlobalEntry) Apply(c Credit) {
	pct := Percentage(c.Score, c.Total)
	if e.TotalTests == 0 || pct > e.BestScore {
		e.BestScore = pct
	}

	e.UserID = c.UserID
	e.Username = c.Username
	e.Name = c.Name
	e.TotalTests++
	e.TotalScore += c.Score
	e.TotalQuestions += c.Total
	e.AveragePercentage = Percentage(e.TotalScore, e.TotalQuestions)
	e.LastTestDate = c.At
}

// Percentage returns score/total*100 rounded half away from zero. A zero
// total yields 0.
func Percentage(score, total int) int64 {
	if total <= 0 {
		return 0
	}

	return decimal.NewFromInt(int64(score)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart()
}

// RankedEntry is a global leaderboard row with its positional rank.
type RankedEntry struct {
	Rank int `json:"rank"`
	GlobalEntry
}
