package domain

import "time"

// HistoryEntry is one archived result of a user.
type HistoryEntry struct {
	SessionID   string    `json:"sessionId"`
	VariantID   int       `json:"variantId"`
	VariantName string    `json:"variantName"`
	IsRandom    bool      `json:"isRandom"`
	Score       int       `json:"score"`
	Total       int       `json:"totalQuestions"`
	Percentage  int64     `json:"percentage"`
	LeftEarly   bool      `json:"leftEarly"`
	FinishedAt  time.Time `json:"finishedAt"`
}
