package routing

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
)

// MaxHops bounds forwarding. Every hop of greedy routing extends the common
// prefix with the destination by at least one bit.
const MaxHops = overlay.IdentifierBits

// DefaultSeenCacheSize is the number of envelope ids remembered for duplicate
// suppression.
const DefaultSeenCacheSize = 10_000

// DecisionKind tells what to do with an envelope.
type DecisionKind uint8

const (
	// Local envelopes are delivered on this node.
	Local DecisionKind = iota + 1
	// Member envelopes are handed to a member of our section they address.
	Member
	// NextHop envelopes are forwarded to an elder of a section closer to the destination.
	NextHop
)

func (k DecisionKind) String() string {
	switch k {
	case Local:
		return "local"
	case Member:
		return "member"
	case NextHop:
		return "next_hop"
	default:
		return fmt.Sprintf("decision(%d)", uint8(k))
	}
}

// Decision is the outcome of routing an envelope. Target is unset for Local.
type Decision struct {
	Kind   DecisionKind
	Target overlay.Peer
}

// Table is the routing knowledge of a node.
type Table interface {
	// Prefix returns the prefix of our section.
	Prefix() overlay.Prefix
	// Closest returns the known section best suited to reach id.
	Closest(id overlay.Identifier) (overlay.SignedSectionInfo, error)
	// Member returns the member of our section with identifier id.
	Member(id overlay.Identifier) (overlay.Peer, bool)
}

// Dispatcher routes validated envelopes greedily by XOR distance.
// It is not safe for concurrent use.
type Dispatcher struct {
	self    overlay.Identifier
	seen    *lru.Cache[overlay.Identifier, struct{}]
	metrics module.RoutingMetrics
}

func NewDispatcher(self overlay.Identifier, seenCacheSize int, metrics module.RoutingMetrics) (*Dispatcher, error) {
	seen, err := lru.New[overlay.Identifier, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create seen cache: %w", err)
	}
	return &Dispatcher{self: self, seen: seen, metrics: metrics}, nil
}

// Route decides where env goes. It never routes to ourselves.
//
// Expected errors:
//   - ErrDuplicate if env was already routed
//   - ErrTooManyHops if env was forwarded more than MaxHops times
//   - ErrNoRoute if no known node is closer to the destination
func (d *Dispatcher) Route(table Table, env *messages.Envelope) (Decision, error) {
	if int(env.Hops) > MaxHops {
		return Decision{}, fmt.Errorf("%s after %d hops: %w", env, env.Hops, ErrTooManyHops)
	}
	if seen, _ := d.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
		d.metrics.DuplicateSuppressed()
		return Decision{}, fmt.Errorf("%s: %w", env, ErrDuplicate)
	}
	decision, err := d.route(table, env.Destination)
	if err != nil {
		return Decision{}, err
	}
	d.metrics.EnvelopeRouted(decision.Kind.String())
	return decision, nil
}

// Forget removes an envelope id from the duplicate filter, so that a locally
// originated envelope can be routed again.
func (d *Dispatcher) Forget(id overlay.Identifier) {
	d.seen.Remove(id)
}

func (d *Dispatcher) route(table Table, dest messages.Destination) (Decision, error) {
	prefix := table.Prefix()
	if prefix.Matches(dest.Name) {
		if dest.Kind == messages.ToSection || dest.Name == d.self {
			return Decision{Kind: Local}, nil
		}
		member, ok := table.Member(dest.Name)
		if !ok {
			return Decision{}, fmt.Errorf("node %s is not a member of %s: %w", dest.Name.TerminalString(), prefix.LogString(), ErrNoRoute)
		}
		return Decision{Kind: Member, Target: member}, nil
	}

	info, err := table.Closest(dest.Name)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %v: %w", dest, err, ErrNoRoute)
	}
	if info.Prefix() == prefix {
		return Decision{}, fmt.Errorf("no section closer to %s than ours: %w", dest, ErrNoRoute)
	}
	elders := info.Info.Elders.Filter(func(p overlay.Peer) bool { return p.ID != d.self })
	target, ok := elders.Closest(dest.Name)
	if !ok {
		return Decision{}, fmt.Errorf("section %s has no elders: %w", info.Prefix().LogString(), ErrNoRoute)
	}
	return Decision{Kind: NextHop, Target: target}, nil
}
