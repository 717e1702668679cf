package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/transcription"
	"github.com/rs/zerolog/log"
)

type ConnectAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type TranscriptionError struct {
	Error string `json:"error"`
}

func (o *Orchestrator) handleTranscriptionConnect(ctx context.Context, sess *core.Session, _ json.RawMessage) (Reply, error) {
	if !o.Limiter.Allow(sess.UserName) {
		return Reply{}, ErrRateLimited
	}
	if o.Proxy == nil {
		return Reply{}, transcription.ErrUpstreamConnectFailed
	}
	status, err := o.Proxy.Connect(ctx, sess.UserName, sess.ID)
	if err != nil {
		// the client also learns about it on its transcription channel
		return Reply{
			Ack: failure(err),
			Out: []Outbound{{To: sess.ID, Event: core.EventTranscriptionError, Payload: TranscriptionError{Error: err.Error()}}},
		}, nil
	}
	return Reply{Ack: ConnectAck{Success: true, Message: status.String()}}, nil
}

// upstreamFrame unwraps a JSON string payload into its text; anything
// else is forwarded as the raw JSON value.
func upstreamFrame(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrBadPayload
	}
	if payload[0] == '"' {
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, ErrBadPayload
		}
		return []byte(text), nil
	}
	return payload, nil
}

func (o *Orchestrator) handleTranscriptionSend(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	frame, err := upstreamFrame(payload)
	if err != nil {
		return Reply{}, err
	}
	if o.Proxy == nil {
		err = transcription.ErrNotConnected
	} else {
		err = o.Proxy.Send(sess.UserName, frame)
	}
	if err != nil {
		return Reply{
			Ack: failure(err),
			Out: []Outbound{{To: sess.ID, Event: core.EventTranscriptionError, Payload: TranscriptionError{Error: err.Error()}}},
		}, nil
	}
	return Reply{Ack: map[string]bool{"success": true}}, nil
}

func (o *Orchestrator) handleTranscriptionDisconnect(_ context.Context, sess *core.Session, _ json.RawMessage) (Reply, error) {
	closed := false
	if o.Proxy != nil {
		closed = o.Proxy.Disconnect(sess.UserName)
	}
	return Reply{Ack: map[string]bool{"success": true, "disconnected": closed}}, nil
}

type peerTranscriptionPayload struct {
	Transcription string `json:"transcription"`
	From          string `json:"from"`
	To            string `json:"to"`
}

type PeerTranscription struct {
	Transcription string `json:"transcription"`
	From          string `json:"from"`
}

type PeerAck struct {
	Success   bool `json:"success"`
	Delivered bool `json:"delivered"`
}

// handleSendTranscription relays a client-side transcript line to the named
// peer. The sender name is always the authenticated one.
func (o *Orchestrator) handleSendTranscription(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p peerTranscriptionPayload
	if err := decode(payload, &p); err != nil {
		return Reply{}, err
	}
	if p.To == "" {
		return Reply{}, ErrBadPayload
	}
	out, ok := o.toUser(p.To, core.EventReceiveTranscription, PeerTranscription{
		Transcription: p.Transcription,
		From:          sess.UserName,
	})
	if ok {
		o.Metrics.Transcript(app.ForwardToPeer.String())
	}
	return Reply{Ack: PeerAck{Success: true, Delivered: ok}, Out: out}, nil
}

// OnMessage forwards every upstream message to its owner and records
// completed transcript lines in the owner's room.
func (o *Orchestrator) OnMessage(owner core.SessionID, user string, raw []byte, ev transcription.Event) {
	o.send(owner, core.EventTranscriptionMessage, "", json.RawMessage(raw))

	switch ev.Kind {
	case transcription.EventError:
		o.send(owner, core.EventTranscriptionError, "", TranscriptionError{Error: ev.Message})
	case transcription.EventTranscriptionCompleted:
		if ev.Text != "" {
			o.onTranscript(owner, user, ev.Text)
		}
	}
}

func (o *Orchestrator) onTranscript(owner core.SessionID, user, text string) {
	decision := o.Fanout.Decide(user)
	o.Metrics.Transcript(decision.Route.String())

	if sess, ok := o.Registry.GetSession(owner); ok {
		if roomID, _, joined := sess.Room(); joined {
			o.Rooms.Record(roomID, domain.TranscriptLine{
				Speaker: user,
				Text:    text,
				Final:   true,
				Target:  decision.Target,
				At:      time.Now(),
			})
		}
	}

	if o.ServerFanout && decision.Route == app.ForwardToPeer {
		if out, ok := o.toUser(decision.Target, core.EventReceiveTranscription, PeerTranscription{
			Transcription: text,
			From:          user,
		}); ok {
			o.deliver(out)
		}
	}
	log.Debug().Str("module", "orch").Str("user", user).Str("route", decision.Route.String()).Msg("transcript")
}

func (o *Orchestrator) OnError(owner core.SessionID, user string, err error) {
	o.send(owner, core.EventTranscriptionError, "", TranscriptionError{Error: err.Error()})
}

func (o *Orchestrator) OnClosed(owner core.SessionID, user string) {
	o.send(owner, core.EventTranscriptionDisconnect, "", map[string]string{"user": user})
}
