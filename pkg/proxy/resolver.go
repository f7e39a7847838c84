package proxy

import "strings"

// PrefixRule maps a model-name prefix to the provider tag that serves it.
type PrefixRule struct {
	Prefix   string
	Provider string
}

// PrefixResolver implements ModelResolver by matching the longest
// registered prefix of the model name, so a more specific rule (e.g.
// "gpt-4o-mini") takes precedence over a shorter one (e.g. "gpt-") when
// both are registered.
type PrefixResolver struct {
	rules []PrefixRule
}

// NewPrefixResolver builds a PrefixResolver from rules. Rules need not be
// pre-sorted; ResolveProvider always picks the longest matching prefix.
func NewPrefixResolver(rules ...PrefixRule) *PrefixResolver {
	return &PrefixResolver{rules: rules}
}

// ResolveProvider returns the provider registered for the longest prefix
// of model that matches, or false if no rule matches.
func (p *PrefixResolver) ResolveProvider(model string) (string, bool) {
	best := -1
	var provider string
	for _, rule := range p.rules {
		if strings.HasPrefix(model, rule.Prefix) && len(rule.Prefix) > best {
			best = len(rule.Prefix)
			provider = rule.Provider
		}
	}
	if best < 0 {
		return "", false
	}
	return provider, true
}

// DefaultPrefixRules are the OpenAI-compatible model-name prefixes the
// gateway recognizes out of the box. Operators extend this via
// NewPrefixResolver with additional rules for self-hosted or custom
// deployments.
var DefaultPrefixRules = []PrefixRule{
	{Prefix: "gpt-", Provider: "openai"},
	{Prefix: "o1", Provider: "openai"},
	{Prefix: "o3", Provider: "openai"},
	{Prefix: "text-embedding-", Provider: "openai"},
	{Prefix: "claude-", Provider: "anthropic"},
	{Prefix: "gemini-", Provider: "google"},
	{Prefix: "mistral-", Provider: "mistral"},
	{Prefix: "llama-", Provider: "groq"},
}
