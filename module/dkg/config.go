package dkg

import "time"

// Config holds the timing of DKG sessions.
type Config struct {
	// RoundTimeout is the deadline of each of the commitment and ack rounds.
	RoundTimeout time.Duration
	// MaxRetries is the number of restarts after a failed attempt.
	MaxRetries uint64
	// RetryBase is the first retry delay, doubled on every retry.
	RetryBase time.Duration
	// RetryMax caps the retry delay.
	RetryMax time.Duration
	// BacklogSize bounds the messages held for sessions not started yet.
	BacklogSize int
}

// DefaultConfig returns the default DKG configuration.
func DefaultConfig() Config {
	return Config{
		RoundTimeout: 10 * time.Second,
		MaxRetries:   3,
		RetryBase:    500 * time.Millisecond,
		RetryMax:     8 * time.Second,
		BacklogSize:  1024,
	}
}
