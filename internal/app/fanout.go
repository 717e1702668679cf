package app

// Route is where a recognized transcript line goes.
type Route int

const (
	Unrouted Route = iota
	DisplayLocal
	ForwardToPeer
)

func (r Route) String() string {
	switch r {
	case DisplayLocal:
		return "local"
	case ForwardToPeer:
		return "peer"
	default:
		return "unrouted"
	}
}

// Decision is the outcome of Fanout.Decide. Target is set for ForwardToPeer only.
type Decision struct {
	Route  Route
	Target string
}

// Fanout picks the direction of transcripts from the negotiation roles:
// the answerer's lines go to the offerer, the offerer keeps its own.
// The reverse direction is never chosen.
type Fanout struct {
	negotiations *NegotiationRelay
}

func NewFanout(n *NegotiationRelay) *Fanout {
	return &Fanout{negotiations: n}
}

func (f *Fanout) Decide(userName string) Decision {
	role, peer := f.negotiations.RoleOf(userName)
	switch role {
	case Answerer:
		return Decision{Route: ForwardToPeer, Target: peer}
	case Offerer:
		return Decision{Route: DisplayLocal}
	default:
		return Decision{Route: Unrouted}
	}
}
