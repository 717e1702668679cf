package domain

import "time"

// TranscriptLine is one recognized speech fragment.
// Target is empty when the line is displayed by the speaker's own client.
type TranscriptLine struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	Final   bool      `json:"final"`
	Target  string    `json:"target,omitempty"`
	At      time.Time `json:"at"`
}
