package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	f, err := NewFrame(FrameInvoke, "7", "JoinGroup", "conversation-3")
	require.NoError(t, err)

	data, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, FrameInvoke, PeekType(data))

	got, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "7", got.ID)
	assert.Equal(t, "JoinGroup", got.Target)
	assert.JSONEq(t, `"conversation-3"`, string(got.Payload()))
}

func TestFrame_PayloadDefaultsToNull(t *testing.T) {
	assert.Equal(t, "null", string(Frame{}.Payload()))
}

func TestPeekType_Garbage(t *testing.T) {
	assert.Equal(t, FrameType(""), PeekType([]byte("not json")))
}
