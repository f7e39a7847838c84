// Package providers holds the per-upstream capability table: how to build a
// request URL, which header carries the credential, and how to inject it.
// Adding a new upstream is registering one Capability, not branching
// failover or classification logic on a provider tag.
package providers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Capability describes everything the proxy needs to know about one
// upstream provider to route a request to it.
type Capability struct {
	// Tag is the provider identifier used throughout the system (matches
	// keystore.Key.Provider and the inbound route's {provider} segment).
	Tag string

	// BaseURL is the upstream's API origin, e.g. "https://api.openai.com".
	BaseURL string

	// AuthHeaderName is the HTTP header the credential is carried in
	// ("Authorization" for OpenAI-compatible providers, "x-goog-api-key"
	// for Google).
	AuthHeaderName string

	// BuildUpstreamURL maps the inbound request path/query onto the
	// upstream URL. The default join-with-BaseURL behavior covers most
	// providers; override for providers needing a different shape.
	BuildUpstreamURL func(pc Capability, inboundPath, rawQuery string) (string, error)

	// InjectAuth sets the credential header on the outbound request.
	// Override for providers that need more than "set one header" (e.g. a
	// bearer prefix).
	InjectAuth func(pc Capability, req *http.Request, secret string)
}

func defaultBuildUpstreamURL(pc Capability, inboundPath, rawQuery string) (string, error) {
	base, err := url.Parse(pc.BaseURL)
	if err != nil {
		return "", fmt.Errorf("providers: invalid base URL for %q: %w", pc.Tag, err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(inboundPath, "/")
	base.RawQuery = rawQuery
	return base.String(), nil
}

func bearerInjectAuth(pc Capability, req *http.Request, secret string) {
	req.Header.Set(pc.AuthHeaderName, "Bearer "+secret)
}

func rawHeaderInjectAuth(pc Capability, req *http.Request, secret string) {
	req.Header.Set(pc.AuthHeaderName, secret)
}

// Table is a registry of Capabilities keyed by provider tag.
type Table struct {
	byTag map[string]Capability
}

// NewTable builds a Table from the given capabilities, keyed by Tag.
func NewTable(caps ...Capability) *Table {
	t := &Table{byTag: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if c.BuildUpstreamURL == nil {
			c.BuildUpstreamURL = defaultBuildUpstreamURL
		}
		if c.InjectAuth == nil {
			c.InjectAuth = bearerInjectAuth
		}
		t.byTag[c.Tag] = c
	}
	return t
}

// Lookup returns the Capability registered for tag.
func (t *Table) Lookup(tag string) (Capability, bool) {
	c, ok := t.byTag[tag]
	return c, ok
}

// Tags returns every registered provider tag, in no particular order. Used
// by the cleanup loop, which sweeps all providers rather than routing a
// single request.
func (t *Table) Tags() []string {
	tags := make([]string, 0, len(t.byTag))
	for tag := range t.byTag {
		tags = append(tags, tag)
	}
	return tags
}

// OpenAICompatible returns a Capability for any OpenAI-compatible upstream
// (OpenAI itself, Mistral, Groq, DeepSeek, Together, vLLM, LiteLLM, ...),
// authenticating via a bearer Authorization header.
func OpenAICompatible(tag, baseURL string) Capability {
	return Capability{
		Tag:              tag,
		BaseURL:          baseURL,
		AuthHeaderName:   "Authorization",
		BuildUpstreamURL: defaultBuildUpstreamURL,
		InjectAuth:       bearerInjectAuth,
	}
}

// Google returns a Capability for Google's Generative Language API, which
// authenticates via a raw "x-goog-api-key" header rather than a bearer
// Authorization header.
func Google(tag, baseURL string) Capability {
	return Capability{
		Tag:              tag,
		BaseURL:          baseURL,
		AuthHeaderName:   "x-goog-api-key",
		BuildUpstreamURL: defaultBuildUpstreamURL,
		InjectAuth:       rawHeaderInjectAuth,
	}
}

// Passthrough returns a Capability whose auth header name and injection are
// caller-specified, for any upstream that doesn't fit the two common shapes.
func Passthrough(tag, baseURL, authHeaderName string) Capability {
	return Capability{
		Tag:              tag,
		BaseURL:          baseURL,
		AuthHeaderName:   authHeaderName,
		BuildUpstreamURL: defaultBuildUpstreamURL,
		InjectAuth:       rawHeaderInjectAuth,
	}
}
