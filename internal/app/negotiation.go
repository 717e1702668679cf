package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrOffererNotFound         = errors.New("no offer from that offerer")
	ErrAlreadyAnswered         = errors.New("offer already answered")
	ErrCandidateOriginMismatch = errors.New("candidate origin does not match the connection")
	ErrTooManyPending          = errors.New("too many candidates before answer")
)

// MaxPendingCandidates bounds the answerer candidates parked before the answer lands.
const MaxPendingCandidates = 64

// Candidate sides used in metrics.
const (
	SideOfferer  = "offerer"
	SideAnswerer = "answerer"
)

type NegotiationRole int

const (
	NoNegotiation NegotiationRole = iota
	Offerer
	Answerer
)

// Delivery says where a candidate went. Buffered candidates have no Target yet.
type Delivery struct {
	Target   string
	Buffered bool
}

// AnswerResult is what the answerer gets back: the updated offer and
// every offerer candidate gathered before the answer.
type AnswerResult struct {
	Offer             domain.Offer
	OffererCandidates []webrtc.ICECandidateInit
}

type offerEntry struct {
	mu    sync.Mutex
	offer domain.Offer
}

// NegotiationRelay keeps one offer per offerer and routes ICE candidates
// between the two sides. Locks are taken global first, then per offer.
type NegotiationRelay struct {
	mu         sync.RWMutex
	offers     map[string]*offerEntry
	answeredBy map[string]string // answerer -> offerer
	pending    map[string][]webrtc.ICECandidateInit

	now     func() time.Time
	metrics *metrics.Metrics
}

func NewNegotiationRelay(m *metrics.Metrics) *NegotiationRelay {
	return &NegotiationRelay{
		offers:     make(map[string]*offerEntry),
		answeredBy: make(map[string]string),
		pending:    make(map[string][]webrtc.ICECandidateInit),
		now:        time.Now,
		metrics:    m,
	}
}

// SubmitOffer stores a fresh offer. A new offer from the same offerer
// replaces the previous one together with its answer binding.
func (n *NegotiationRelay) SubmitOffer(offererName string, roomID domain.RoomID, sd webrtc.SessionDescription) (domain.Offer, error) {
	if err := domain.ValidateOffer(sd); err != nil {
		return domain.Offer{}, err
	}
	e := &offerEntry{offer: domain.Offer{
		OffererUserName:       offererName,
		RoomID:                roomID,
		Offer:                 sd,
		OfferIceCandidates:    []webrtc.ICECandidateInit{},
		AnswererIceCandidates: []webrtc.ICECandidateInit{},
		CreatedAt:             n.now(),
	}}

	n.mu.Lock()
	if old, ok := n.offers[offererName]; ok {
		old.mu.Lock()
		if a := old.offer.AnswererUserName; a != "" && n.answeredBy[a] == offererName {
			delete(n.answeredBy, a)
		}
		old.mu.Unlock()
	}
	n.offers[offererName] = e
	n.mu.Unlock()
	n.metrics.OfferSubmitted()

	log.Info().
		Str("module", "app.negotiation").
		Str("offerer", offererName).
		Str("room_id", string(roomID)).
		Msg("offer stored")
	return e.offer.Clone(), nil
}

// SubmitAnswer binds the answer to the offer of offererName. The first answer wins.
// Answerer candidates parked before this call are attached to the offer; a
// rejected answer discards them so they never reach another negotiation.
func (n *NegotiationRelay) SubmitAnswer(answererName, offererName string, sd webrtc.SessionDescription) (AnswerResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := domain.ValidateAnswer(sd); err != nil {
		delete(n.pending, answererName)
		return AnswerResult{}, err
	}
	e, ok := n.offers[offererName]
	if !ok {
		delete(n.pending, answererName)
		return AnswerResult{}, ErrOffererNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offer.Answered() {
		delete(n.pending, answererName)
		return AnswerResult{}, ErrAlreadyAnswered
	}
	answer := sd
	e.offer.Answer = &answer
	e.offer.AnswererUserName = answererName
	if parked := n.pending[answererName]; len(parked) > 0 {
		e.offer.AnswererIceCandidates = append(e.offer.AnswererIceCandidates, parked...)
		delete(n.pending, answererName)
	}
	n.answeredBy[answererName] = offererName

	log.Info().
		Str("module", "app.negotiation").
		Str("offerer", offererName).
		Str("answerer", answererName).
		Int("buffered", len(e.offer.OfferIceCandidates)).
		Msg("offer answered")

	out := e.offer.Clone()
	return AnswerResult{Offer: out, OffererCandidates: out.OfferIceCandidates}, nil
}

// SubmitCandidate records a candidate and returns where it must be delivered.
// Offerer candidates are forwarded to the answerer once bound and buffered before.
// Answerer candidates are forwarded to the offerer whose offer fromName answered;
// before that answer they are parked and travel inside the answer.
func (n *NegotiationRelay) SubmitCandidate(fromName string, isOfferer bool, c webrtc.ICECandidateInit) (Delivery, error) {
	if isOfferer {
		return n.offererCandidate(fromName, c)
	}
	return n.answererCandidate(fromName, c)
}

func (n *NegotiationRelay) offererCandidate(fromName string, c webrtc.ICECandidateInit) (Delivery, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.offers[fromName]
	if !ok {
		return Delivery{}, ErrOffererNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.offer.OfferIceCandidates = append(e.offer.OfferIceCandidates, c)
	if e.offer.AnswererUserName == "" {
		n.metrics.Candidate(SideOfferer, "buffered")
		return Delivery{Buffered: true}, nil
	}
	n.metrics.Candidate(SideOfferer, "forwarded")
	return Delivery{Target: e.offer.AnswererUserName}, nil
}

func (n *NegotiationRelay) answererCandidate(fromName string, c webrtc.ICECandidateInit) (Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	offerer, ok := n.answeredBy[fromName]
	if !ok {
		parked := n.pending[fromName]
		if len(parked) >= MaxPendingCandidates {
			return Delivery{}, ErrTooManyPending
		}
		n.pending[fromName] = append(parked, c)
		n.metrics.Candidate(SideAnswerer, "buffered")
		return Delivery{Buffered: true}, nil
	}

	e := n.offers[offerer]
	e.mu.Lock()
	e.offer.AnswererIceCandidates = append(e.offer.AnswererIceCandidates, c)
	e.mu.Unlock()
	n.metrics.Candidate(SideAnswerer, "forwarded")
	return Delivery{Target: offerer}, nil
}

// DropPending discards the candidates name parked before answering.
func (n *NegotiationRelay) DropPending(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	dropped := len(n.pending[name])
	delete(n.pending, name)
	return dropped
}

// List returns every offer, oldest first.
func (n *NegotiationRelay) List() []domain.Offer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]domain.Offer, 0, len(n.offers))
	for _, e := range n.offers {
		e.mu.Lock()
		out = append(out, e.offer.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the current offer of offererName.
func (n *NegotiationRelay) Get(offererName string) (domain.Offer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.offers[offererName]
	if !ok {
		return domain.Offer{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offer.Clone(), true
}

// RoleOf reports which side of a negotiation name is on, and the peer on
// the other side (empty for an unanswered offerer). Answering wins over offering.
func (n *NegotiationRelay) RoleOf(name string) (NegotiationRole, string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if offerer, ok := n.answeredBy[name]; ok {
		return Answerer, offerer
	}
	if e, ok := n.offers[name]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return Offerer, e.offer.AnswererUserName
	}
	return NoNegotiation, ""
}
