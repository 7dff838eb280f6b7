package unittest

import (
	"flag"
	"io"
	"os"

	"github.com/rs/zerolog"
)

var verbose = flag.Bool("vv", false, "print node logs of tests")

// Logger returns a debug level logger writing to stderr when tests run with
// -vv, and discarding everything otherwise.
func Logger() zerolog.Logger {
	var out io.Writer = io.Discard
	if *verbose {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// NodeLogger returns Logger tagged with the name of a test node.
func NodeLogger(name string) zerolog.Logger {
	return Logger().With().Str("node", name).Logger()
}
