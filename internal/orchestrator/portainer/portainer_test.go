package portainer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingAPI(t *testing.T) {
	_, err := New("mgr", Options{EnvID: "3", APIKey: "k"}, nil, nil)
	require.Error(t, err)
}

func TestNewRejectsMissingEnvID(t *testing.T) {
	_, err := New("mgr", Options{API: "https://portainer.example.com", APIKey: "k"}, nil, nil)
	require.Error(t, err)
}

type capturingRoundTripper struct {
	req *http.Request
}

func (c *capturingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	c.req = req
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestProxyTransportPrefixesPathAndSetsAPIKey(t *testing.T) {
	capture := &capturingRoundTripper{}
	transport := &proxyTransport{prefix: "/api/endpoints/3/docker", apiKey: "secret", base: capture}

	req, err := http.NewRequest(http.MethodGet, "https://portainer.example.com/v1.41/containers/json", nil)
	require.NoError(t, err)

	_, err = transport.RoundTrip(req)
	require.NoError(t, err)
	require.NotNil(t, capture.req)

	assert.Equal(t, "/api/endpoints/3/docker/v1.41/containers/json", capture.req.URL.Path)
	assert.Equal(t, "secret", capture.req.Header.Get("X-API-KEY"))
}

func TestProxyTransportDoesNotDoublePrefix(t *testing.T) {
	capture := &capturingRoundTripper{}
	transport := &proxyTransport{prefix: "/api/endpoints/3/docker", apiKey: "secret", base: capture}

	req, err := http.NewRequest(http.MethodGet, "https://portainer.example.com/api/endpoints/3/docker/v1.41/containers/json", nil)
	require.NoError(t, err)

	_, err = transport.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, "/api/endpoints/3/docker/v1.41/containers/json", capture.req.URL.Path)
}
