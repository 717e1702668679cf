package app

import "github.com/dkeye/callrelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens when a connection's outbound queue is full.
type Policy interface {
	OnBackPressure(sess *core.Session, event string) BackpressureAction
}

// SimplePolicy drops upstream transcription traffic and kicks a client
// that cannot keep up with signaling, so it reconnects with a clean state.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ *core.Session, event string) BackpressureAction {
	switch event {
	case core.EventTranscriptionMessage:
		return DropFrame
	default:
		return KickMember
	}
}
