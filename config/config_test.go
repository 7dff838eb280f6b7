package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/config"
	"github.com/onflow/sectionnet/utils/unittest"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.InitializeFlags(flags, config.Default())
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())

	engine, err := config.Default().Engine()
	require.NoError(t, err)
	assert.Equal(t, 7, engine.Membership.ElderSize)
	assert.True(t, engine.GenesisKey.IsZero())
	assert.Empty(t, engine.Contacts)
}

func TestValidateReportsEveryViolation(t *testing.T) {
	c := config.Default()
	c.DataDir = ""
	c.LogLevel = "loud"
	c.GenesisKey = "zz"
	c.Section.Membership.ElderSize = 0
	c.Section.VerifyWorkers = 0

	err := c.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 5)
}

func TestValidateSplitSizes(t *testing.T) {
	c := config.Default()
	c.Section.Membership.SplitThreshold = c.Section.Membership.RecommendedSectionSize
	assert.Error(t, c.Validate())

	c = config.Default()
	c.Section.Membership.MaxSectionSize = 0
	assert.NoError(t, c.Validate(), "no section size limit")
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SECTIONNET_ELDER_SIZE", "5")
	t.Setenv("SECTIONNET_HEARTBEAT_INTERVAL", "3s")

	c, err := config.Load(newFlags(t), "")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Section.Membership.ElderSize)
	assert.Equal(t, 3*time.Second, c.Section.HeartbeatInterval)

	c, err = config.Load(newFlags(t, "--elder-size=4"), "")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Section.Membership.ElderSize)
}

func TestLoadConfigFile(t *testing.T) {
	dir := unittest.TempDir(t)
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "sectiond.yaml")
	content := "datadir: /var/lib/sectiond\nelder-size: 6\ngenesis: true\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	c, err := config.Load(newFlags(t), file)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sectiond", c.DataDir)
	assert.Equal(t, 6, c.Section.Membership.ElderSize)
	assert.True(t, c.Genesis)

	engine, err := c.Engine()
	require.NoError(t, err)
	assert.True(t, engine.Genesis)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := config.Load(newFlags(t, "--contacts=/ip4/127.0.0.1/tcp/7000"), "")
	assert.Error(t, err, "contact without peer id")
}
