package relationship

// State is the derived relationship between two accounts, computed fresh
// from both accounts' relation sets on every read. It is never persisted:
// block or connection changes between two reads must be reflected by the
// next resolve.
type State int

const (
	StateStrangers State = iota
	StateRequestSentByMe
	StateRequestSentByThem
	StateConnected
	StateBlockedByMe
	StateBlockedByThem
	StateMutuallyBlocked
)

func (s State) String() string {
	switch s {
	case StateStrangers:
		return "strangers"
	case StateRequestSentByMe:
		return "request_sent_by_me"
	case StateRequestSentByThem:
		return "request_sent_by_them"
	case StateConnected:
		return "connected"
	case StateBlockedByMe:
		return "blocked_by_me"
	case StateBlockedByThem:
		return "blocked_by_them"
	case StateMutuallyBlocked:
		return "mutually_blocked"
	default:
		return "unknown"
	}
}

// Blocked reports whether the state has any blocked component. A blocked
// conversation renders empty and rejects sends in both directions.
func (s State) Blocked() bool {
	return s == StateBlockedByMe || s == StateBlockedByThem || s == StateMutuallyBlocked
}

// Sets holds one account's relation sets, loaded from its relation rows.
// PendingConnections contains the accounts that sent a request TO this
// account (requests live on the receiver, never on the sender).
type Sets struct {
	Connections        map[int64]struct{}
	PendingConnections map[int64]struct{}
	BlockedUsers       map[int64]struct{}
}

// NewSets returns an empty Sets value.
func NewSets() Sets {
	return Sets{
		Connections:        make(map[int64]struct{}),
		PendingConnections: make(map[int64]struct{}),
		BlockedUsers:       make(map[int64]struct{}),
	}
}

func (s Sets) hasConnection(id int64) bool {
	_, ok := s.Connections[id]
	return ok
}

func (s Sets) hasPendingFrom(id int64) bool {
	_, ok := s.PendingConnections[id]
	return ok
}

func (s Sets) hasBlocked(id int64) bool {
	_, ok := s.BlockedUsers[id]
	return ok
}

// Resolve computes the relationship state from me's point of view.
// First match wins; blocks take precedence over every social state, and a
// mutual block over a one-sided one.
//
// A connection row in only one direction still resolves Connected: the
// mirrored row is written by convention, not atomically, so the resolver
// must tolerate the asymmetric window instead of failing. Callers that
// care (see Service.StateBetween) detect and log the asymmetry.
func Resolve(meID, otherID int64, me, other Sets) State {
	switch {
	case me.hasBlocked(otherID) && other.hasBlocked(meID):
		return StateMutuallyBlocked
	case me.hasBlocked(otherID):
		return StateBlockedByMe
	case other.hasBlocked(meID):
		return StateBlockedByThem
	case me.hasConnection(otherID) || other.hasConnection(meID):
		return StateConnected
	case other.hasPendingFrom(meID):
		return StateRequestSentByMe
	case me.hasPendingFrom(otherID):
		return StateRequestSentByThem
	default:
		return StateStrangers
	}
}
