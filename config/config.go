// Package config holds the configuration of a section node and its
// validation.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/section"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/network/p2p"
)

// Config is the configuration of a section node.
type Config struct {
	// DataDir is the badger directory holding the node key, the key chain and
	// the known sections.
	DataDir string
	// ListenAddr is the libp2p listen multiaddress.
	ListenAddr string
	// MetricsPort is the port of the prometheus endpoint. Zero disables it.
	MetricsPort uint
	// Profiler serves pprof next to the metrics.
	Profiler bool
	LogLevel string

	// Genesis starts a new network when the node has no stored state.
	Genesis bool
	// GenesisKey is the hex encoded genesis key a joining node trusts.
	GenesisKey string
	// Contacts are the multiaddresses of the nodes to join through.
	Contacts []string
	// ResourceProofDifficulty is the number of leading zero bits of the
	// hashcash proof join candidates present. Zero turns proofs off.
	ResourceProofDifficulty int

	Section section.Config
	Network p2p.Config
}

// Default returns the default node configuration.
func Default() Config {
	return Config{
		DataDir:     "data",
		ListenAddr:  "/ip4/0.0.0.0/tcp/7000",
		MetricsPort: 8080,
		LogLevel:    "info",
		Section:     section.DefaultConfig(),
		Network:     p2p.DefaultConfig(),
	}
}

// Validate returns every violation of the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.DataDir == "" {
		fail("data directory must be set")
	}
	if _, err := multiaddr.NewMultiaddr(c.ListenAddr); err != nil {
		fail("invalid listen address %q: %w", c.ListenAddr, err)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		fail("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.GenesisKey != "" {
		if _, err := parseKey(c.GenesisKey); err != nil {
			fail("invalid genesis key: %w", err)
		}
	}
	for _, contact := range c.Contacts {
		if _, err := p2p.ParsePeer(contact); err != nil {
			fail("invalid contact: %w", err)
		}
	}
	if c.ResourceProofDifficulty < 0 || c.ResourceProofDifficulty > 32 {
		fail("resource proof difficulty %d outside [0, 32]", c.ResourceProofDifficulty)
	}

	m := c.Section.Membership
	if m.ElderSize < 1 {
		fail("elder size must be positive, got %d", m.ElderSize)
	}
	if m.RecommendedSectionSize < m.ElderSize {
		fail("recommended section size %d below elder size %d", m.RecommendedSectionSize, m.ElderSize)
	}
	if m.SplitThreshold < 2*m.RecommendedSectionSize {
		fail("split threshold %d cannot leave %d members in each half", m.SplitThreshold, m.RecommendedSectionSize)
	}
	if m.MaxSectionSize != 0 && m.MaxSectionSize <= m.SplitThreshold {
		fail("max section size %d must exceed the split threshold %d", m.MaxSectionSize, m.SplitThreshold)
	}
	if m.ElderTimeout == 0 {
		fail("elder timeout must be positive")
	}

	s := c.Section
	if s.JoinTimeout <= 0 || s.JoinTimeoutMax < s.JoinTimeout {
		fail("join timeout %s and max %s must be positive and ordered", s.JoinTimeout, s.JoinTimeoutMax)
	}
	if s.HeartbeatInterval <= 0 {
		fail("heartbeat interval must be positive")
	}
	if s.SyncInterval <= 0 {
		fail("sync interval must be positive")
	}
	if s.InboundQueueCapacity < 1 {
		fail("inbound queue capacity must be positive")
	}
	if s.VerifyWorkers < 1 {
		fail("verify workers must be positive")
	}
	if s.SeenCacheSize < 1 {
		fail("seen cache size must be positive")
	}
	if s.AggregationLimit < 1 {
		fail("aggregation limit must be positive")
	}
	if s.DKG.RoundTimeout <= 0 {
		fail("dkg round timeout must be positive")
	}
	if s.DKG.RetryBase <= 0 || s.DKG.RetryMax < s.DKG.RetryBase {
		fail("dkg retry delays %s and %s must be positive and ordered", s.DKG.RetryBase, s.DKG.RetryMax)
	}
	if c.Network.StreamTimeout <= 0 {
		fail("stream timeout must be positive")
	}

	return result.ErrorOrNil()
}

// Engine returns the section engine configuration, with the genesis key and
// the contacts parsed.
func (c Config) Engine() (section.Config, error) {
	config := c.Section
	config.Genesis = c.Genesis
	if c.GenesisKey != "" {
		key, err := parseKey(c.GenesisKey)
		if err != nil {
			return section.Config{}, fmt.Errorf("invalid genesis key: %w", err)
		}
		config.GenesisKey = key
	}
	config.Contacts = make(overlay.PeerList, 0, len(c.Contacts))
	for _, contact := range c.Contacts {
		peer, err := p2p.ParsePeer(contact)
		if err != nil {
			return section.Config{}, err
		}
		config.Contacts = append(config.Contacts, peer)
	}
	return config, nil
}

func parseKey(s string) (crypto.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.PublicKeyFromBytes(raw)
}
