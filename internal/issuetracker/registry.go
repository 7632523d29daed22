package issuetracker

import (
	"github.com/flowforge/agentrunner/internal/taskerrors"
)

// Registry looks providers up by tag.
type Registry struct {
	providers map[Tag]Provider
}

// NewRegistry builds a registry from the given providers, keyed by their own
// Tag(). A nil provider is skipped (lets callers pass a conditionally-built
// adapter without branching at the call site).
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Tag]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Tag()] = p
	}
	return r
}

// Get returns the provider registered under tag, or a NotConfiguredError.
func (r *Registry) Get(tag Tag) (Provider, error) {
	p, ok := r.providers[tag]
	if !ok {
		return nil, &taskerrors.NotConfiguredError{Provider: string(tag)}
	}
	return p, nil
}

// Tags lists every registered provider tag, for health/status reporting.
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.providers))
	for t := range r.providers {
		tags = append(tags, t)
	}
	return tags
}
