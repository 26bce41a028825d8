package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Answer is a participant's response to one question: either a selected
// option or a timeout. On the wire an answered question is the option index
// and a timed out one is null.
type Answer struct {
	option   int
	answered bool
}

func Answered(option int) Answer {
	return Answer{option: option, answered: true}
}

func TimedOut() Answer {
	return Answer{}
}

// Option returns the selected option index, ok is false for a timeout.
func (a Answer) Option() (option int, ok bool) {
	return a.option, a.answered
}

func (a Answer) IsTimedOut() bool {
	return !a.answered
}

func (a Answer) String() string {
	if !a.answered {
		return "timed-out"
	}

	return fmt.Sprintf("option(%d)", a.option)
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if !a.answered {
		return []byte("null"), nil
	}

	return json.Marshal(a.option)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*a = TimedOut()
		return nil
	}

	var option int
	if err := json.Unmarshal(b, &option); err != nil {
		return fmt.Errorf("answer: %w", err)
	}

	if option < 0 {
		return fmt.Errorf("answer: option index must not be negative, got %d", option)
	}

	*a = Answered(option)
	return nil
}
