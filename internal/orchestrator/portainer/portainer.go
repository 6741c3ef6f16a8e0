// Package portainer builds a Docker Engine API driver routed through a
// Portainer instance's endpoint-scoped REST proxy instead of a daemon
// socket. The proxy exposes the real Engine API verbatim under
// /api/endpoints/{id}/docker, so nothing about container/service
// semantics differs from internal/orchestrator/docker — only transport
// (base path, X-API-KEY auth, optional relaxed TLS) does.
package portainer

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	dockerclient "github.com/docker/docker/client"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator/docker"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

const apiKeyHeader = "X-API-KEY"

// Options mirrors the opencti.daemon.portainer configuration block.
type Options struct {
	API     string
	EnvID   string
	APIKey  string
	Version string

	// InsecureSkipVerify disables TLS certificate verification against
	// the Portainer API. Defaults to false (verify): the resolved Open
	// Question favors failing closed over the reference
	// implementation's always-insecure default.
	InsecureSkipVerify bool

	DockerOptions docker.Options
}

// New builds a docker.Orchestrator whose Engine API client transparently
// rewrites every request onto Portainer's proxy path and authenticates
// with an API key instead of a socket/TLS client cert.
func New(managerID string, options Options, resolver *registry.Resolver, authCache *registry.AuthCache) (*docker.Orchestrator, error) {
	if options.API == "" {
		return nil, fmt.Errorf("portainer: api base url is required")
	}
	if options.EnvID == "" {
		return nil, fmt.Errorf("portainer: environment id is required")
	}

	prefix := fmt.Sprintf("/api/endpoints/%s/docker", options.EnvID)

	transport := &proxyTransport{
		prefix: prefix,
		apiKey: options.APIKey,
		base: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: options.InsecureSkipVerify},
		},
	}

	httpClient := &http.Client{Transport: transport}

	opts := []dockerclient.Opt{
		dockerclient.WithHTTPClient(httpClient),
		dockerclient.WithHost(options.API),
	}
	if options.Version != "" {
		opts = append(opts, dockerclient.WithVersion(options.Version))
	}

	return docker.NewWithOpts(managerID, options.DockerOptions, resolver, authCache, opts...)
}

// proxyTransport prefixes every outgoing request path with Portainer's
// endpoint-scoped docker proxy segment and attaches the API key header,
// leaving everything else (method, body, query string) untouched.
type proxyTransport struct {
	prefix string
	apiKey string
	base   http.RoundTripper
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if !strings.HasPrefix(clone.URL.Path, t.prefix) {
		clone.URL.Path = t.prefix + clone.URL.Path
	}
	clone.Header.Set(apiKeyHeader, t.apiKey)
	return t.base.RoundTrip(clone)
}
