package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/dkeye/callrelay/internal/transcription"
	"github.com/rs/zerolog/log"
)

// Proxy is the per-user upstream transcription proxy.
type Proxy interface {
	Connect(ctx context.Context, user string, owner core.SessionID) (transcription.ConnectStatus, error)
	Send(user string, msg []byte) error
	Disconnect(user string) bool
	DisconnectOwned(user string, owner core.SessionID) bool
}

// Outbound is one message the orchestrator delivers after a handler returns.
type Outbound struct {
	To      core.SessionID
	Event   string
	Payload any
}

// Reply is a handler result: the ack payload for the caller and the
// messages for other connections.
type Reply struct {
	Ack any
	Out []Outbound
}

type Handler func(ctx context.Context, sess *core.Session, payload json.RawMessage) (Reply, error)

type Orchestrator struct {
	Registry     *app.Registry
	Rooms        *app.RoomRegistry
	Negotiations *app.NegotiationRelay
	Fanout       *app.Fanout
	Proxy        Proxy
	Limiter      *app.RateLimiter
	Policy       app.Policy
	Metrics      *metrics.Metrics
	ServerFanout bool

	handlers map[string]Handler
}

func New(reg *app.Registry, rooms *app.RoomRegistry, negotiations *app.NegotiationRelay, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		Registry:     reg,
		Rooms:        rooms,
		Negotiations: negotiations,
		Fanout:       app.NewFanout(negotiations),
		Policy:       app.SimplePolicy{},
		Metrics:      m,
	}
	o.handlers = map[string]Handler{
		core.EventJoinRoom:             o.handleJoinRoom,
		core.EventEndRoom:              o.handleEndRoom,
		core.EventNewOffer:             o.handleNewOffer,
		core.EventNewAnswer:            o.handleNewAnswer,
		core.EventSendIceCandidate:     o.handleIceCandidate,
		core.EventTranscriptionConnect: o.handleTranscriptionConnect,
		core.EventTranscriptionSend:    o.handleTranscriptionSend,
		core.EventTranscriptionClose:   o.handleTranscriptionDisconnect,
		core.EventSendTranscription:    o.handleSendTranscription,
		core.EventPing:                 o.handlePing,
	}
	return o
}

// Dispatch runs the handler of env.Type and delivers its results.
// A failure goes back in the ack, or as an error event when there is no ack id.
func (o *Orchestrator) Dispatch(ctx context.Context, sess *core.Session, env core.Envelope) {
	reply, err := o.call(ctx, sess, env)
	if err != nil {
		log.Debug().
			Err(err).
			Str("module", "orch").
			Str("sid", string(sess.ID)).
			Str("user", sess.UserName).
			Str("event", env.Type).
			Msg("event rejected")
		if env.Ack != "" {
			o.send(sess.ID, core.EventAck, env.Ack, failure(err))
		} else {
			o.send(sess.ID, core.EventError, "", ErrorEvent{Event: env.Type, Error: err.Error(), Code: Code(err)})
		}
		return
	}
	if env.Ack != "" {
		o.send(sess.ID, core.EventAck, env.Ack, reply.Ack)
	}
	o.deliver(reply.Out)
}

func (o *Orchestrator) call(ctx context.Context, sess *core.Session, env core.Envelope) (reply Reply, err error) {
	h, ok := o.handlers[env.Type]
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "orch").Str("event", env.Type).Msg("handler panic")
			err = fmt.Errorf("handler %s: %v", env.Type, r)
		}
	}()
	return h(ctx, sess, env.Payload)
}

func (o *Orchestrator) deliver(out []Outbound) {
	for _, m := range out {
		o.send(m.To, m.Event, "", m.Payload)
	}
}

// send encodes and queues one message; a full queue is handled by the policy.
func (o *Orchestrator) send(sid core.SessionID, event, ack string, payload any) {
	sig, ok := o.Registry.Signal(sid)
	if !ok {
		return
	}
	frame, err := core.Encode(event, ack, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode failed")
		return
	}
	err = sig.TrySend(frame)
	if err == nil || !errors.Is(err, core.ErrBackpressure) {
		return
	}

	action := app.DropFrame
	if o.Policy != nil {
		sess, _ := o.Registry.GetSession(sid)
		action = o.Policy.OnBackPressure(sess, event)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("event", event).Msg("slow client kicked")
		o.Registry.Cancel(sid)
	case app.DropFrame:
		o.Metrics.FrameDropped()
	case app.NoAction:
	}
}

// toUser addresses the connection currently serving name.
func (o *Orchestrator) toUser(name, event string, payload any) ([]Outbound, bool) {
	sid, ok := o.Registry.ByName(name)
	if !ok {
		return nil, false
	}
	return []Outbound{{To: sid, Event: event, Payload: payload}}, true
}

// OnConnect registers an authenticated connection and sends it the open offers.
func (o *Orchestrator) OnConnect(sess *core.Session, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(sess, sig, cancel)
	o.Metrics.ConnectionOpened()
	o.send(sess.ID, core.EventAvailableOffers, "", o.Negotiations.List())
}

// OnDisconnect closes the upstream session the connection owns and unbinds it.
// Offers and rooms stay so the user can reconnect; candidates parked for an
// answer that never came are dropped once the user has no connection left.
func (o *Orchestrator) OnDisconnect(sess *core.Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "orch").Str("sid", string(sess.ID)).Msg("disconnect cleanup panic")
		}
	}()
	if o.Proxy != nil {
		o.Proxy.DisconnectOwned(sess.UserName, sess.ID)
	}
	o.Registry.Unbind(sess.ID)
	if _, online := o.Registry.ByName(sess.UserName); !online {
		o.Negotiations.DropPending(sess.UserName)
	}
	o.Metrics.ConnectionClosed()
	log.Info().
		Str("module", "orch").
		Str("sid", string(sess.ID)).
		Str("client", sess.ClientToken).
		Str("user", sess.UserName).
		Msg("connection cleaned up")
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty", ErrBadPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func (o *Orchestrator) handlePing(_ context.Context, sess *core.Session, _ json.RawMessage) (Reply, error) {
	return Reply{
		Ack: map[string]bool{"success": true},
		Out: []Outbound{{To: sess.ID, Event: core.EventPong}},
	}, nil
}
