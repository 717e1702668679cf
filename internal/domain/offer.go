package domain

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrBadOffer  = errors.New("offer must be an sdp of type offer")
	ErrBadAnswer = errors.New("answer must be an sdp of type answer")
)

// Offer is one negotiation between an offerer and (once answered) an answerer.
// SDP payloads and candidates are relayed as they are, the relay never applies them.
type Offer struct {
	OffererUserName       string                     `json:"offererUserName"`
	RoomID                RoomID                     `json:"roomId,omitempty"`
	Offer                 webrtc.SessionDescription  `json:"offer"`
	OfferIceCandidates    []webrtc.ICECandidateInit  `json:"offerIceCandidates"`
	AnswererUserName      string                     `json:"answererUserName,omitempty"`
	Answer                *webrtc.SessionDescription `json:"answer"`
	AnswererIceCandidates []webrtc.ICECandidateInit  `json:"answererIceCandidates"`
	CreatedAt             time.Time                  `json:"createdAt"`
}

// Answered reports whether an answer was bound.
func (o *Offer) Answered() bool { return o.Answer != nil }

// Clone deep-copies the slices and the answer.
func (o *Offer) Clone() Offer {
	out := *o
	out.OfferIceCandidates = cloneCandidates(o.OfferIceCandidates)
	out.AnswererIceCandidates = cloneCandidates(o.AnswererIceCandidates)
	if o.Answer != nil {
		a := *o.Answer
		out.Answer = &a
	}
	return out
}

func cloneCandidates(in []webrtc.ICECandidateInit) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, len(in))
	copy(out, in)
	return out
}

// ValidateOffer checks the description is a non-empty offer.
func ValidateOffer(sd webrtc.SessionDescription) error {
	if sd.Type != webrtc.SDPTypeOffer || sd.SDP == "" {
		return ErrBadOffer
	}
	return nil
}

// ValidateAnswer checks the description is a non-empty answer.
func ValidateAnswer(sd webrtc.SessionDescription) error {
	if sd.Type != webrtc.SDPTypeAnswer || sd.SDP == "" {
		return ErrBadAnswer
	}
	return nil
}
