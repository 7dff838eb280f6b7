package channels_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onflow/sectionnet/network/channels"
)

func TestValid(t *testing.T) {
	assert.True(t, channels.Valid(channels.Section))
	assert.True(t, channels.Valid(channels.TestNetwork))
	assert.False(t, channels.Valid("sync"))
	assert.False(t, channels.Valid(""))

	assert.False(t, channels.ChannelList{}.Contains(channels.Section))
}
