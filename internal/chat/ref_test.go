package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRef_Kinds(t *testing.T) {
	p := Pending("abc")
	assert.True(t, p.IsPending())
	assert.False(t, p.IsConfirmed())
	key, ok := p.LocalKey()
	assert.True(t, ok)
	assert.Equal(t, "abc", key)
	_, ok = p.ServerID()
	assert.False(t, ok)

	c := Confirmed("42")
	assert.True(t, c.IsConfirmed())
	id, ok := c.ServerID()
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	assert.True(t, MessageRef{}.IsZero())
	assert.Equal(t, "", MessageRef{}.Key())
}

func TestParseKey_RoundTrip(t *testing.T) {
	for _, ref := range []MessageRef{Pending("k-1"), Confirmed("42")} {
		got, err := ParseKey(ref.Key())
		require.NoError(t, err)
		assert.Equal(t, ref, got)
	}

	for _, bad := range []string{"", "p:", "c:", "x:1", "42"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, "key %q", bad)
	}
}

func TestMessageRef_JSON(t *testing.T) {
	data, err := json.Marshal(Confirmed("7"))
	require.NoError(t, err)
	assert.JSONEq(t, `"c:7"`, string(data))

	var ref MessageRef
	require.NoError(t, json.Unmarshal([]byte(`"p:local"`), &ref))
	assert.Equal(t, Pending("local"), ref)
}

func TestSeq(t *testing.T) {
	assert.Equal(t, int64(42), Seq("42"))
	assert.Equal(t, int64(0), Seq("abc"))
	assert.Equal(t, int64(0), Seq(""))
}
