package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onflow/sectionnet/config"
)

var flagConfigFile string

var rootCmd = &cobra.Command{
	Use:   "sectiond",
	Short: "Run a node of a sectioned overlay network",
	RunE:  run,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "optional config file")
	config.InitializeFlags(rootCmd.PersistentFlags(), config.Default())

	rootCmd.AddCommand(chainCmd)
}

// newLogger creates the node logger at level.
func newLogger(level string) zerolog.Logger {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	return log.Level(lvl)
}
