package transcription

import (
	"encoding/json"
	"errors"
)

// Upstream message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeAudioAppend            = "input_audio_buffer.append"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeError                  = "error"
)

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig asks for text-only, transcription-only behaviour.
type SessionConfig struct {
	Modalities              []string                `json:"modalities"`
	Instructions            string                  `json:"instructions,omitempty"`
	InputAudioFormat        string                  `json:"input_audio_format"`
	InputAudioTranscription InputAudioTranscription `json:"input_audio_transcription"`
	TurnDetection           TurnDetection           `json:"turn_detection"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// AudioAppend carries one base64 PCM16 frame.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type EventKind int

const (
	EventOther EventKind = iota
	EventSpeechStarted
	EventSpeechStopped
	EventTranscriptionCompleted
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventSpeechStarted:
		return "speechStarted"
	case EventSpeechStopped:
		return "speechStopped"
	case EventTranscriptionCompleted:
		return "transcriptionCompleted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "other"
	}
}

// Event is the typed view of an upstream message.
type Event struct {
	Kind    EventKind
	Type    string
	Text    string
	Message string
}

var ErrNoType = errors.New("upstream message without type")

type wireEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent decodes the fields the relay acts on. Unknown types map to EventOther.
func ParseEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, err
	}
	if w.Type == "" {
		return Event{}, ErrNoType
	}
	ev := Event{Type: w.Type}
	switch w.Type {
	case TypeSpeechStarted:
		ev.Kind = EventSpeechStarted
	case TypeSpeechStopped:
		ev.Kind = EventSpeechStopped
	case TypeTranscriptionCompleted:
		ev.Kind = EventTranscriptionCompleted
		ev.Text = w.Transcript
	case TypeError:
		ev.Kind = EventError
		if w.Error != nil {
			ev.Message = w.Error.Message
		}
	}
	return ev, nil
}
