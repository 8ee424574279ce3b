package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Upstream names a route may use instead of a URL.
const (
	UpstreamIdentity = "identity"
	UpstreamListings = "listings"
)

type EdgeConfig struct {
	Env             string        `yaml:"env" env:"ENV" env-default:"local"`
	Port            string        `yaml:"port" env:"EDGE_PORT" env-default:"8000"`
	IdentityURL     string        `yaml:"identity_url" env:"IDENTITY_URL" env-default:"http://localhost:8080"`
	ListingsURL     string        `yaml:"listings_url" env:"LISTINGS_URL" env-default:"http://localhost:8082"`
	VerifierTimeout time.Duration `yaml:"verifier_timeout" env:"EDGE_VERIFIER_TIMEOUT" env-default:"2s"`
	InternalKey     string        `yaml:"internal_api_key" env:"INTERNAL_API_KEY"`
	CORSOrigins     []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	Routes          []Route       `yaml:"routes"`
}

// Route sends requests matching Path (and Methods, when given) to Upstream.
// Protected routes require a live access credential.
type Route struct {
	Path      string   `yaml:"path"`
	Prefix    bool     `yaml:"prefix"`
	Methods   []string `yaml:"methods"`
	Upstream  string   `yaml:"upstream"`
	Protected bool     `yaml:"protected"`
}

// DefaultRoutes is the routing table used when none is configured.
// validate-token is absent: it is reachable only inside the
// network. The users routes authenticate the bearer in the identity service.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/api/v1/auth/register", Methods: []string{"POST"}, Upstream: UpstreamIdentity},
		{Path: "/api/v1/auth/authenticate", Methods: []string{"POST"}, Upstream: UpstreamIdentity},
		{Path: "/api/v1/auth/refresh-token", Methods: []string{"POST"}, Upstream: UpstreamIdentity},
		{Path: "/api/v1/auth/logout", Methods: []string{"POST"}, Upstream: UpstreamIdentity},
		{Path: "/api/v1/users", Methods: []string{"PUT", "DELETE"}, Upstream: UpstreamIdentity},
		{Path: "/api/v1/property", Methods: []string{"POST"}, Upstream: UpstreamListings, Protected: true},
		{Path: "/api/v1/property", Methods: []string{"GET"}, Upstream: UpstreamListings},
	}
}

func NewEdge() (*EdgeConfig, error) {
	return LoadEdge(os.Getenv("CONFIG_PATH"))
}

func LoadEdge(path string) (*EdgeConfig, error) {
	var c EdgeConfig
	if err := read(path, &c); err != nil {
		return nil, err
	}
	if len(c.Routes) == 0 {
		c.Routes = DefaultRoutes()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *EdgeConfig) validate() error {
	if c.VerifierTimeout <= 0 {
		return errors.New("EDGE_VERIFIER_TIMEOUT must be positive")
	}
	for _, raw := range []string{c.IdentityURL, c.ListingsURL} {
		if _, err := parseUpstream(raw); err != nil {
			return err
		}
	}
	for i, r := range c.Routes {
		if r.Path == "" || r.Path[0] != '/' {
			return fmt.Errorf("route %d: path must start with /", i)
		}
		if _, err := c.UpstreamURL(r.Upstream); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
	}
	return checkPort(c.Port)
}

// UpstreamURL resolves a route's upstream, which is either a known name or
// an absolute URL.
func (c *EdgeConfig) UpstreamURL(upstream string) (*url.URL, error) {
	switch upstream {
	case UpstreamIdentity:
		return parseUpstream(c.IdentityURL)
	case UpstreamListings:
		return parseUpstream(c.ListingsURL)
	default:
		return parseUpstream(upstream)
	}
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: absolute URL required", raw)
	}
	return u, nil
}
