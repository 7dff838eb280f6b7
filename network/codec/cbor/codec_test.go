package cbor_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/network/codec"
	"github.com/onflow/sectionnet/network/codec/cbor"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestCodecEnvelope(t *testing.T) {
	c := cbor.NewCodec()
	section := unittest.NewSectionFixture(t, overlay.MustParsePrefix("01"), 3, 4)
	sync := &messages.SectionSync{Sections: []messages.SyncedSection{{Info: section.Info}}}
	payload, err := c.Encode(sync)
	require.NoError(t, err)
	assert.Equal(t, codec.CodeSectionSync, payload[0])

	env := &messages.Envelope{
		ID:           unittest.IdentifierFixture(),
		Source:       unittest.IdentifierFixture(),
		SourcePrefix: overlay.MustParsePrefix("1"),
		Destination:  messages.Destination{Kind: messages.ToSection, Name: unittest.IdentifierFixture()},
		Hops:         3,
		Payload:      payload,
		Authority:    messages.Authority{Kind: messages.AuthoritySection, SectionKey: section.Key()},
	}
	data, err := c.Encode(env)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	require.IsType(t, &messages.Envelope{}, decoded)
	got := decoded.(*messages.Envelope)
	assert.Equal(t, env.SigningBytes(), got.SigningBytes())
	assert.Equal(t, env.Hops, got.Hops)
	assert.Equal(t, env.Authority.SectionKey, got.Authority.SectionKey)

	inner, err := c.Decode(got.Payload)
	require.NoError(t, err)
	require.IsType(t, &messages.SectionSync{}, inner)
	info := inner.(*messages.SectionSync).Sections[0].Info
	assert.NoError(t, info.Verify())
	assert.Equal(t, section.Info.Info.Elders, info.Info.Elders)
}

func TestCodecErrors(t *testing.T) {
	c := cbor.NewCodec()

	_, err := c.Encode(struct{}{})
	assert.ErrorIs(t, err, codec.ErrInvalidEncoding)

	_, err = c.Decode(nil)
	assert.ErrorIs(t, err, codec.ErrInvalidEncoding)

	_, err = c.Decode([]byte{codec.CodeMax})
	assert.True(t, codec.IsUnknownCode(err))

	_, err = c.Decode([]byte{codec.CodeHeartbeat, 0xff})
	assert.True(t, codec.IsPayloadError(err))
}

func TestStream(t *testing.T) {
	c := cbor.NewCodec()
	var buf bytes.Buffer
	enc := c.NewEncoder(&buf)
	require.NoError(t, enc.Encode(&messages.Heartbeat{Generation: 7}))
	require.NoError(t, enc.Encode(&messages.UserMessage{Data: []byte("hello")}))

	dec := c.NewDecoder(&buf)
	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, &messages.Heartbeat{Generation: 7}, first)
	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, &messages.UserMessage{Data: []byte("hello")}, second)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}
