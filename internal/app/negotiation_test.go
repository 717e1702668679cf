package app

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func offerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
}

func answerSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestSubmitOfferValidates(t *testing.T) {
	n := NewNegotiationRelay(nil)
	if _, err := n.SubmitOffer("alice", "", answerSDP()); err == nil {
		t.Fatalf("answer accepted as offer")
	}
	if _, err := n.SubmitOffer("alice", "", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); err == nil {
		t.Fatalf("empty sdp accepted")
	}
	if _, err := n.SubmitOffer("alice", "r1", offerSDP()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(n.List()); got != 1 {
		t.Fatalf("offers=%d, want 1", got)
	}
}

func TestCandidatesBeforeAnswerReturnedOnce(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())

	for _, c := range []string{"a1", "a2"} {
		d, err := n.SubmitCandidate("alice", true, cand(c))
		if err != nil {
			t.Fatalf("candidate %s: %v", c, err)
		}
		if !d.Buffered || d.Target != "" {
			t.Fatalf("delivery=%+v, want buffered", d)
		}
	}

	res, err := n.SubmitAnswer("bob", "alice", answerSDP())
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(res.OffererCandidates) != 2 || res.OffererCandidates[0].Candidate != "a1" {
		t.Fatalf("buffered=%+v, want [a1 a2]", res.OffererCandidates)
	}
	if res.Offer.AnswererUserName != "bob" || res.Offer.Answer == nil {
		t.Fatalf("offer=%+v, want answered by bob", res.Offer)
	}

	d, err := n.SubmitCandidate("alice", true, cand("a3"))
	if err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if d.Buffered || d.Target != "bob" {
		t.Fatalf("delivery=%+v, want forward to bob", d)
	}
}

func TestAnswerFirstWriteWins(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())

	if _, err := n.SubmitAnswer("bob", "alice", answerSDP()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := n.SubmitAnswer("carol", "alice", answerSDP()); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("err=%v, want %v", err, ErrAlreadyAnswered)
	}
	o, _ := n.Get("alice")
	if o.AnswererUserName != "bob" {
		t.Fatalf("answerer=%q, want bob", o.AnswererUserName)
	}
}

func TestAnswerUnknownOfferer(t *testing.T) {
	n := NewNegotiationRelay(nil)
	if _, err := n.SubmitAnswer("bob", "ghost", answerSDP()); !errors.Is(err, ErrOffererNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrOffererNotFound)
	}
	if _, err := n.SubmitCandidate("ghost", true, cand("x")); !errors.Is(err, ErrOffererNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrOffererNotFound)
	}
	if len(n.List()) != 0 {
		t.Fatalf("candidate created an offer")
	}
}

func TestAnswererCandidates(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())

	d, err := n.SubmitCandidate("bob", false, cand("b1"))
	if err != nil || !d.Buffered {
		t.Fatalf("early answerer candidate=%+v err=%v, want buffered", d, err)
	}

	res, _ := n.SubmitAnswer("bob", "alice", answerSDP())
	if len(res.Offer.AnswererIceCandidates) != 1 || res.Offer.AnswererIceCandidates[0].Candidate != "b1" {
		t.Fatalf("answerer candidates=%+v, want [b1]", res.Offer.AnswererIceCandidates)
	}

	d, err = n.SubmitCandidate("bob", false, cand("b2"))
	if err != nil || d.Target != "alice" {
		t.Fatalf("delivery=%+v err=%v, want forward to alice", d, err)
	}
	o, _ := n.Get("alice")
	if len(o.AnswererIceCandidates) != 2 {
		t.Fatalf("answerer candidates=%d, want 2", len(o.AnswererIceCandidates))
	}
}

func TestPendingCandidatesBounded(t *testing.T) {
	n := NewNegotiationRelay(nil)
	for i := 0; i < MaxPendingCandidates; i++ {
		if _, err := n.SubmitCandidate("bob", false, cand("b")); err != nil {
			t.Fatalf("candidate %d: %v", i, err)
		}
	}
	if _, err := n.SubmitCandidate("bob", false, cand("b")); !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("err=%v, want %v", err, ErrTooManyPending)
	}
}

func TestReplacedOfferDropsAnswerer(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())
	n.SubmitAnswer("bob", "alice", answerSDP())

	n.SubmitOffer("alice", "", offerSDP())
	if role, _ := n.RoleOf("bob"); role != NoNegotiation {
		t.Fatalf("bob role=%v, want none", role)
	}
	if _, err := n.SubmitAnswer("bob", "alice", answerSDP()); err != nil {
		t.Fatalf("answer on new offer: %v", err)
	}
}

func TestFanoutDecide(t *testing.T) {
	n := NewNegotiationRelay(nil)
	f := NewFanout(n)
	if d := f.Decide("alice"); d.Route != Unrouted {
		t.Fatalf("route=%v, want unrouted", d.Route)
	}

	n.SubmitOffer("alice", "", offerSDP())
	if d := f.Decide("alice"); d.Route != DisplayLocal {
		t.Fatalf("route=%v, want local", d.Route)
	}
	n.SubmitAnswer("bob", "alice", answerSDP())
	if d := f.Decide("bob"); d.Route != ForwardToPeer || d.Target != "alice" {
		t.Fatalf("decision=%+v, want forward to alice", d)
	}
	if d := f.Decide("alice"); d.Route != DisplayLocal {
		t.Fatalf("offerer route=%v, want local", d.Route)
	}
}

func TestRejectedAnswerDiscardsParkedCandidates(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())
	n.SubmitOffer("dave", "", offerSDP())

	n.SubmitCandidate("bob", false, cand("for-alice"))
	if _, err := n.SubmitAnswer("carol", "alice", answerSDP()); err != nil {
		t.Fatalf("carol answer: %v", err)
	}
	if _, err := n.SubmitAnswer("bob", "alice", answerSDP()); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("err=%v, want %v", err, ErrAlreadyAnswered)
	}

	res, err := n.SubmitAnswer("bob", "dave", answerSDP())
	if err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	if len(res.Offer.AnswererIceCandidates) != 0 {
		t.Fatalf("answerer candidates=%+v, want none carried over", res.Offer.AnswererIceCandidates)
	}
}

func TestUnknownOffererDiscardsParkedCandidates(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitCandidate("bob", false, cand("b1"))
	if _, err := n.SubmitAnswer("bob", "ghost", answerSDP()); !errors.Is(err, ErrOffererNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrOffererNotFound)
	}
	if got := n.DropPending("bob"); got != 0 {
		t.Fatalf("parked=%d, want 0", got)
	}
}

func TestDropPending(t *testing.T) {
	n := NewNegotiationRelay(nil)
	n.SubmitOffer("alice", "", offerSDP())
	n.SubmitCandidate("bob", false, cand("b1"))
	n.SubmitCandidate("bob", false, cand("b2"))

	if got := n.DropPending("bob"); got != 2 {
		t.Fatalf("dropped=%d, want 2", got)
	}
	res, _ := n.SubmitAnswer("bob", "alice", answerSDP())
	if len(res.Offer.AnswererIceCandidates) != 0 {
		t.Fatalf("answerer candidates=%+v, want none", res.Offer.AnswererIceCandidates)
	}
}
