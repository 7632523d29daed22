package issuetracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/agentrunner/internal/taskerrors"
)

func TestRegistry_SkipsNilProviders(t *testing.T) {
	gh := NewGitHubProvider(GitHubConfig{Token: "t", WebhookSecret: "s"}, nil)
	r := NewRegistry(nil, gh)

	assert.Equal(t, []Tag{TagGitHub}, r.Tags())
}

// TestRegistry_TypedNilPointerIsNotSkipped documents the classic Go pitfall
// that motivates the call-site discipline in buildProviders: once a
// concrete-typed nil pointer is converted to the Provider interface, it is
// no longer == nil, so NewRegistry cannot filter it out on its own. Callers
// must never construct one of these in the first place for an unconfigured
// provider — they must omit it from the slice entirely.
func TestRegistry_TypedNilPointerIsNotSkipped(t *testing.T) {
	var linear *LinearProvider
	r := NewRegistry(linear)

	assert.Equal(t, []Tag{TagLinear}, r.Tags(), "a typed-nil pointer is a non-nil interface value and gets registered")
}

func TestRegistry_GetReturnsNotConfiguredForMissingTag(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(TagLinear)
	var notConfigured *taskerrors.NotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
}

func TestRegistry_GetReturnsRegisteredProvider(t *testing.T) {
	gh := NewGitHubProvider(GitHubConfig{Token: "t", WebhookSecret: "s"}, nil)
	r := NewRegistry(gh)

	p, err := r.Get(TagGitHub)
	require.NoError(t, err)
	assert.Equal(t, TagGitHub, p.Tag())
}
