package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding flags, e.g.
// SECTIONNET_ELDER_SIZE for --elder-size.
const EnvPrefix = "SECTIONNET"

const (
	// node
	dataDir                 = "datadir"
	listenAddr              = "listen"
	metricsPort             = "metrics-port"
	profiler                = "profiler-enabled"
	logLevel                = "loglevel"
	genesis                 = "genesis"
	genesisKey              = "genesis-key"
	contacts                = "contacts"
	resourceProofDifficulty = "resource-proof-difficulty"
	// membership
	elderSize              = "elder-size"
	recommendedSectionSize = "recommended-section-size"
	splitThreshold         = "split-threshold"
	maxSectionSize         = "max-section-size"
	joinAge                = "join-age"
	elderTimeout           = "elder-timeout"
	relocation             = "relocation-enabled"
	// section engine
	joinTimeout          = "join-timeout"
	joinTimeoutMax       = "join-timeout-max"
	joinRetries          = "join-retries"
	maxRedirects         = "join-max-redirects"
	heartbeatInterval    = "heartbeat-interval"
	syncInterval         = "sync-interval"
	inboundQueueCapacity = "inbound-queue-capacity"
	verifyWorkers        = "verify-workers"
	seenCacheSize        = "seen-cache-size"
	aggregationLimit     = "aggregation-limit"
	// dkg
	dkgRoundTimeout = "dkg-round-timeout"
	dkgMaxRetries   = "dkg-max-retries"
	dkgRetryBase    = "dkg-retry-base"
	dkgRetryMax     = "dkg-retry-max"
	dkgBacklogSize  = "dkg-backlog-size"
	// network
	streamTimeout = "stream-timeout"
	dialRetries   = "dial-retries"
	dialBackoff   = "dial-backoff"
)

// InitializeFlags defines the node flags on flags, with the values of d as
// defaults.
func InitializeFlags(flags *pflag.FlagSet, d Config) {
	flags.String(dataDir, d.DataDir, "directory of the node database")
	flags.String(listenAddr, d.ListenAddr, "libp2p listen multiaddress")
	flags.Uint(metricsPort, d.MetricsPort, "port of the prometheus endpoint, 0 disables it")
	flags.Bool(profiler, d.Profiler, "serve pprof on the metrics port")
	flags.String(logLevel, d.LogLevel, "level of the log output")
	flags.Bool(genesis, d.Genesis, "start a new network when no state is stored")
	flags.String(genesisKey, d.GenesisKey, "hex encoded genesis key to trust")
	flags.StringSlice(contacts, d.Contacts, "multiaddresses of the nodes to join through")
	flags.Int(resourceProofDifficulty, d.ResourceProofDifficulty, "leading zero bits of the join resource proof")

	m := d.Section.Membership
	flags.Int(elderSize, m.ElderSize, "number of elders of a section")
	flags.Int(recommendedSectionSize, m.RecommendedSectionSize, "elder eligible members each half of a split needs")
	flags.Int(splitThreshold, m.SplitThreshold, "member count a section must exceed to split")
	flags.Int(maxSectionSize, m.MaxSectionSize, "member count beyond which joins are refused, 0 for no limit")
	flags.Uint8(joinAge, m.JoinAge, "age of nodes joining for the first time")
	flags.Uint64(elderTimeout, m.ElderTimeout, "heartbeat ticks after which a silent member is voted offline")
	flags.Bool(relocation, m.RelocationEnabled, "relocate members after churn")

	s := d.Section
	flags.Duration(joinTimeout, s.JoinTimeout, "delay before the first join retry")
	flags.Duration(joinTimeoutMax, s.JoinTimeoutMax, "maximum join retry delay")
	flags.Uint64(joinRetries, s.JoinRetries, "join retries before giving up")
	flags.Int(maxRedirects, s.MaxRedirects, "redirects followed by one join attempt")
	flags.Duration(heartbeatInterval, s.HeartbeatInterval, "liveness tick")
	flags.Duration(syncInterval, s.SyncInterval, "period of section sync requests")
	flags.Int(inboundQueueCapacity, s.InboundQueueCapacity, "network messages waiting for the section engine")
	flags.Int(verifyWorkers, s.VerifyWorkers, "signature verification workers")
	flags.Int(seenCacheSize, s.SeenCacheSize, "envelope ids kept for duplicate suppression")
	flags.Int(aggregationLimit, s.AggregationLimit, "signature aggregations tracked at a time")

	k := d.Section.DKG
	flags.Duration(dkgRoundTimeout, k.RoundTimeout, "deadline of each dkg round")
	flags.Uint64(dkgMaxRetries, k.MaxRetries, "dkg restarts after a failed attempt")
	flags.Duration(dkgRetryBase, k.RetryBase, "first dkg retry delay")
	flags.Duration(dkgRetryMax, k.RetryMax, "maximum dkg retry delay")
	flags.Int(dkgBacklogSize, k.BacklogSize, "dkg messages held for sessions not started yet")

	n := d.Network
	flags.Duration(streamTimeout, n.StreamTimeout, "timeout of dialing and writing one message")
	flags.Uint64(dialRetries, n.DialRetries, "additional dial attempts per message")
	flags.Duration(dialBackoff, n.DialBackoff, "delay before the first dial retry")
}

// Load reads the configuration from flags, the SECTIONNET_ environment and
// the optional config file, in that order of precedence, and validates it.
func Load(flags *pflag.FlagSet, file string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("could not bind flags: %w", err)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %w", file, err)
		}
	}

	c := Default()
	c.DataDir = v.GetString(dataDir)
	c.ListenAddr = v.GetString(listenAddr)
	c.MetricsPort = v.GetUint(metricsPort)
	c.Profiler = v.GetBool(profiler)
	c.LogLevel = v.GetString(logLevel)
	c.Genesis = v.GetBool(genesis)
	c.GenesisKey = v.GetString(genesisKey)
	c.Contacts = v.GetStringSlice(contacts)
	c.ResourceProofDifficulty = v.GetInt(resourceProofDifficulty)

	m := &c.Section.Membership
	m.ElderSize = v.GetInt(elderSize)
	m.RecommendedSectionSize = v.GetInt(recommendedSectionSize)
	m.SplitThreshold = v.GetInt(splitThreshold)
	m.MaxSectionSize = v.GetInt(maxSectionSize)
	m.JoinAge = uint8(v.GetUint(joinAge))
	m.ElderTimeout = v.GetUint64(elderTimeout)
	m.RelocationEnabled = v.GetBool(relocation)

	s := &c.Section
	s.JoinTimeout = v.GetDuration(joinTimeout)
	s.JoinTimeoutMax = v.GetDuration(joinTimeoutMax)
	s.JoinRetries = v.GetUint64(joinRetries)
	s.MaxRedirects = v.GetInt(maxRedirects)
	s.HeartbeatInterval = v.GetDuration(heartbeatInterval)
	s.SyncInterval = v.GetDuration(syncInterval)
	s.InboundQueueCapacity = v.GetInt(inboundQueueCapacity)
	s.VerifyWorkers = v.GetInt(verifyWorkers)
	s.SeenCacheSize = v.GetInt(seenCacheSize)
	s.AggregationLimit = v.GetInt(aggregationLimit)

	k := &c.Section.DKG
	k.RoundTimeout = v.GetDuration(dkgRoundTimeout)
	k.MaxRetries = v.GetUint64(dkgMaxRetries)
	k.RetryBase = v.GetDuration(dkgRetryBase)
	k.RetryMax = v.GetDuration(dkgRetryMax)
	k.BacklogSize = v.GetInt(dkgBacklogSize)

	n := &c.Network
	n.StreamTimeout = v.GetDuration(streamTimeout)
	n.DialRetries = v.GetUint64(dialRetries)
	n.DialBackoff = v.GetDuration(dialBackoff)

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
