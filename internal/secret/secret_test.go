package secret

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRedactsOnDisplay(t *testing.T) {
	s := New("super-secret-token")
	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, s.GoString())
}

func TestStringRedactsOnMarshal(t *testing.T) {
	s := New("super-secret-token")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `"***REDACTED***"`, string(data))
}

func TestStringExposeReturnsRawValue(t *testing.T) {
	s := New("super-secret-token")
	assert.Equal(t, "super-secret-token", s.Expose())
}

func TestStringUnmarshalAcceptsPlainString(t *testing.T) {
	var s String
	err := json.Unmarshal([]byte(`"hunter2"`), &s)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", s.Expose())
}

func TestStringEqualComparesUnderlyingValue(t *testing.T) {
	a := New("same")
	b := New("same")
	c := New("different")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestStringIsEmpty(t *testing.T) {
	assert.True(t, String{}.IsEmpty())
	assert.False(t, New("x").IsEmpty())
}
