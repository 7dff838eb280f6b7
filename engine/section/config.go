package section

import (
	"time"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/dkg"
	"github.com/onflow/sectionnet/module/membership"
)

// Config holds the tunables of the section engine.
type Config struct {
	Membership membership.Config
	DKG        dkg.Config

	// Genesis makes the node start the network as the sole elder of the root
	// section when it has no stored state.
	Genesis bool
	// GenesisKey pins the genesis key a joining node trusts. When unset the
	// key chain is rooted at the first valid join response.
	GenesisKey crypto.PublicKey
	// Contacts are the nodes a joining node first sends its request to.
	Contacts overlay.PeerList
	// Relocation is the credential of a node joining after being relocated.
	Relocation *messages.RelocateDetails

	// JoinTimeout is the delay before the first join retry, doubled on every retry.
	JoinTimeout time.Duration
	// JoinTimeoutMax caps the join retry delay. Elders forget admitted candidates
	// whose admission is not agreed within this delay.
	JoinTimeoutMax time.Duration
	// JoinRetries is the number of join retries before giving up.
	JoinRetries uint64
	// MaxRedirects bounds the redirects followed by one join attempt.
	MaxRedirects int

	// HeartbeatInterval is the liveness tick.
	HeartbeatInterval time.Duration
	// SyncInterval is the period of section sync requests to other sections.
	SyncInterval time.Duration

	// InboundQueueCapacity bounds the network messages waiting for the loop.
	InboundQueueCapacity int
	// VerifyWorkers is the size of the signature verification pool.
	VerifyWorkers int
	// SeenCacheSize is the number of envelope ids kept for duplicate suppression.
	SeenCacheSize int
	// AggregationLimit bounds the signature aggregations tracked at a time.
	AggregationLimit int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Membership:           membership.DefaultConfig(),
		DKG:                  dkg.DefaultConfig(),
		JoinTimeout:          2 * time.Second,
		JoinTimeoutMax:       30 * time.Second,
		JoinRetries:          6,
		MaxRedirects:         routing.MaxHops,
		HeartbeatInterval:    time.Second,
		SyncInterval:         30 * time.Second,
		InboundQueueCapacity: 10_000,
		VerifyWorkers:        4,
		SeenCacheSize:        routing.DefaultSeenCacheSize,
		AggregationLimit:     1024,
	}
}
