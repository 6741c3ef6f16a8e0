package docker

import (
	"testing"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNameStripsLeadingSlash(t *testing.T) {
	assert.Equal(t, "foo", normalizeName([]string{"/foo"}))
}

func TestNormalizeNameEmptyWhenNoNames(t *testing.T) {
	assert.Equal(t, "", normalizeName(nil))
}

func TestBuildHostConfigOnlyPopulatesConfiguredFields(t *testing.T) {
	o := &Orchestrator{options: Options{NetworkMode: "host", ShmSize: 67108864}}
	hc := o.buildHostConfig()

	assert.Equal(t, "host", string(hc.NetworkMode))
	assert.EqualValues(t, 67108864, hc.ShmSize)
	assert.Empty(t, hc.CapAdd)
	assert.Nil(t, hc.Ulimits)
}

func TestBuildHostConfigPopulatesUlimits(t *testing.T) {
	o := &Orchestrator{options: Options{Ulimits: []Ulimit{{Name: "nofile", Soft: 1024, Hard: 2048}}}}
	hc := o.buildHostConfig()

	require.Len(t, hc.Ulimits, 1)
	assert.Equal(t, "nofile", hc.Ulimits[0].Name)
	assert.EqualValues(t, 1024, hc.Ulimits[0].Soft)
}

func TestEncodeAuthConfigProducesDecodableBase64(t *testing.T) {
	creds := registry.Credentials{Username: "alice", Password: "secret", ServerAddress: "registry.example.com"}
	encoded, err := encodeAuthConfig(creds)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}
