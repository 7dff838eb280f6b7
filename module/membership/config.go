package membership

// Config holds the membership tunables of a section.
type Config struct {
	// ElderSize is the number of elders of a section.
	ElderSize int
	// RecommendedSectionSize is the number of elder eligible members each half of
	// a split must have.
	RecommendedSectionSize int
	// SplitThreshold is the member count a section must exceed to split.
	SplitThreshold int
	// MaxSectionSize is the member count beyond which joins are refused.
	MaxSectionSize int
	// JoinAge is the age of nodes joining the network for the first time.
	JoinAge uint8
	// ElderTimeout is the number of ticks without heartbeat after which a member
	// is reported unresponsive.
	ElderTimeout uint64
	// RelocationEnabled turns on relocation of members after churn.
	RelocationEnabled bool
}

// DefaultConfig returns the default membership configuration.
func DefaultConfig() Config {
	return Config{
		ElderSize:              7,
		RecommendedSectionSize: 10,
		SplitThreshold:         20,
		MaxSectionSize:         200,
		JoinAge:                5,
		ElderTimeout:           30,
		RelocationEnabled:      true,
	}
}
