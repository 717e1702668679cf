package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type joinRoomPayload struct {
	RoomID          domain.RoomID `json:"roomId"`
	ParticipantName string        `json:"participantName"`
}

type JoinAck struct {
	Success bool        `json:"success"`
	Role    domain.Role `json:"role"`
	IsHost  bool        `json:"isHost"`
	Room    domain.Room `json:"roomData"`
}

type ParticipantJoined struct {
	RoomID          domain.RoomID `json:"roomId"`
	ParticipantName string        `json:"participantName"`
}

func (o *Orchestrator) handleJoinRoom(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p joinRoomPayload
	if err := decode(payload, &p); err != nil {
		return Reply{}, err
	}
	if p.ParticipantName != "" {
		name, err := domain.NormalizeUsername(p.ParticipantName)
		if err != nil {
			return Reply{}, err
		}
		if name != sess.UserName {
			return Reply{}, ErrNameMismatch
		}
	}
	res, err := o.Rooms.Join(p.RoomID, sess.UserName)
	if err != nil {
		return Reply{}, err
	}
	sess.BindRoom(p.RoomID, res.Role)

	reply := Reply{Ack: JoinAck{Success: true, Role: res.Role, IsHost: res.Role.IsHost(), Room: res.Room}}
	if res.NewParticipant {
		out, ok := o.toUser(res.Room.HostUserName, core.EventParticipantJoined, ParticipantJoined{
			RoomID:          p.RoomID,
			ParticipantName: sess.UserName,
		})
		if ok {
			reply.Out = out
		}
	}
	return reply, nil
}

type endRoomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type EndRoomAck struct {
	Success             bool `json:"success"`
	TranscriptionsCount int  `json:"transcriptionsCount"`
}

type RoomEnded struct {
	RoomID  domain.RoomID `json:"roomId"`
	Message string        `json:"message"`
}

// roomOf picks the room named in the payload, or the joined one.
func roomOf(sess *core.Session, id domain.RoomID) (domain.RoomID, error) {
	if id != "" {
		return id, nil
	}
	joined, _, ok := sess.Room()
	if !ok {
		return "", ErrNotInRoom
	}
	return joined, nil
}

func (o *Orchestrator) handleEndRoom(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p endRoomPayload
	if len(payload) > 0 {
		if err := decode(payload, &p); err != nil {
			return Reply{}, err
		}
	}
	id, err := roomOf(sess, p.RoomID)
	if err != nil {
		return Reply{}, err
	}
	room, err := o.Rooms.End(id, sess.UserName)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Ack: EndRoomAck{Success: true, TranscriptionsCount: len(room.Transcripts)}}
	if room.ParticipantUserName != "" {
		if out, ok := o.toUser(room.ParticipantUserName, core.EventRoomEnded, RoomEnded{
			RoomID:  id,
			Message: "The host ended the call",
		}); ok {
			reply.Out = out
		}
	}
	return reply, nil
}

// newOfferPayload accepts {"offer": sdp, "roomId": id} or a bare sdp.
type newOfferPayload struct {
	Offer  *webrtc.SessionDescription `json:"offer"`
	RoomID domain.RoomID              `json:"roomId"`
	Type   webrtc.SDPType             `json:"type"`
	SDP    string                     `json:"sdp"`
}

type OfferAck struct {
	Success bool         `json:"success"`
	Offer   domain.Offer `json:"offer"`
}

func (o *Orchestrator) handleNewOffer(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p newOfferPayload
	if err := decode(payload, &p); err != nil {
		return Reply{}, err
	}
	sd := webrtc.SessionDescription{Type: p.Type, SDP: p.SDP}
	if p.Offer != nil {
		sd = *p.Offer
	}
	roomID := p.RoomID
	if roomID == "" {
		roomID, _, _ = sess.Room()
	}

	offer, err := o.Negotiations.SubmitOffer(sess.UserName, roomID, sd)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Ack: OfferAck{Success: true, Offer: offer}}
	awaiting := []domain.Offer{offer}
	for _, sid := range o.Registry.Others(sess.ID) {
		reply.Out = append(reply.Out, Outbound{To: sid, Event: core.EventNewOfferAwaiting, Payload: awaiting})
	}
	return reply, nil
}

type newAnswerPayload struct {
	OffererUserName string                    `json:"offererUserName"`
	Answer          webrtc.SessionDescription `json:"answer"`
}

// AnswerAck hands the answerer every offerer candidate gathered so far.
type AnswerAck struct {
	Success            bool                      `json:"success"`
	OfferIceCandidates []webrtc.ICECandidateInit `json:"offerIceCandidates"`
}

func (o *Orchestrator) handleNewAnswer(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p newAnswerPayload
	if err := decode(payload, &p); err != nil {
		return Reply{}, err
	}
	res, err := o.Negotiations.SubmitAnswer(sess.UserName, p.OffererUserName, p.Answer)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Ack: AnswerAck{Success: true, OfferIceCandidates: res.OffererCandidates}}
	if out, ok := o.toUser(p.OffererUserName, core.EventAnswerResponse, res.Offer); ok {
		reply.Out = out
	} else {
		log.Warn().Str("module", "orch").Str("offerer", p.OffererUserName).Msg("offerer offline, answer kept")
	}
	return reply, nil
}

type icePayload struct {
	DidIOffer    bool                    `json:"didIOffer"`
	IceUserName  string                  `json:"iceUserName"`
	IceCandidate webrtc.ICECandidateInit `json:"iceCandidate"`
}

type CandidateAck struct {
	Success  bool `json:"success"`
	Buffered bool `json:"buffered"`
}

func (o *Orchestrator) handleIceCandidate(_ context.Context, sess *core.Session, payload json.RawMessage) (Reply, error) {
	var p icePayload
	if err := decode(payload, &p); err != nil {
		return Reply{}, err
	}
	if p.IceUserName != sess.UserName {
		return Reply{}, app.ErrCandidateOriginMismatch
	}
	d, err := o.Negotiations.SubmitCandidate(p.IceUserName, p.DidIOffer, p.IceCandidate)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Ack: CandidateAck{Success: true, Buffered: d.Buffered}}
	if d.Target != "" {
		if out, ok := o.toUser(d.Target, core.EventReceivedIceCandidate, p.IceCandidate); ok {
			reply.Out = out
		}
	}
	return reply, nil
}
