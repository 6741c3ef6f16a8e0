package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalNameIsLowercaseAlphanumericDash(t *testing.T) {
	cases := map[string]string{
		"IPInfo Connector":    "ipinfo-connector",
		"MISP_Feed #1":        "misp-feed-1",
		"already-lower":       "already-lower",
		"Weird!!Chars@@Here":  "weird-chars-here",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalName(in))
	}
}

func TestCanonicalNameIsStableAcrossCalls(t *testing.T) {
	name := "My Connector Name"
	assert.Equal(t, CanonicalName(name), CanonicalName(name))
}

func TestContainerIsManaged(t *testing.T) {
	managed := &Container{Labels: map[string]string{LabelConnector: "c1"}}
	unmanaged := &Container{Labels: map[string]string{"other": "x"}}
	assert.True(t, managed.IsManaged())
	assert.False(t, unmanaged.IsManaged())
}

func TestExtractConnectorIDAbsentIsOkFalse(t *testing.T) {
	c := &Container{Labels: map[string]string{}}
	_, ok := c.ExtractConnectorID()
	assert.False(t, ok)
}

func TestExtractConnectorHashPresent(t *testing.T) {
	c := &Container{Labels: map[string]string{LabelHash: "h1"}}
	hash, ok := c.ExtractConnectorHash()
	assert.True(t, ok)
	assert.Equal(t, "h1", hash)
}
