package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUUID(t *testing.T) {
	assert.True(t, ValidateUUID(NewCorrelationID()))
	assert.False(t, ValidateUUID("not-a-uuid"))
	assert.False(t, ValidateUUID(""))
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ToContext(t.Context(), "abc-123")

	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)

	_, ok = FromContext(t.Context())
	assert.False(t, ok)
}

func TestExtractFromRequest_PrefersCorrelationHeaderOverRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderCorrelationID, "corr-1")

	assert.Equal(t, "corr-1", ExtractFromRequest(req))
}

func TestCorrelationMiddleware_MintsIDWhenAbsentAndEchoesHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrEmpty(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	CorrelationMiddleware(next).ServeHTTP(rec, req)

	assert.True(t, ValidateUUID(seen))
	assert.Equal(t, seen, rec.Header().Get(HeaderCorrelationID))
}

func TestCorrelationMiddleware_PreservesValidInboundID(t *testing.T) {
	inbound := NewCorrelationID()
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrEmpty(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, inbound)
	CorrelationMiddleware(next).ServeHTTP(rec, req)

	assert.Equal(t, inbound, seen)
	assert.Equal(t, inbound, rec.Header().Get(HeaderCorrelationID))
}

func TestCorrelationMiddleware_ReplacesMalformedInboundID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrEmpty(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "not-a-real-uuid")
	CorrelationMiddleware(next).ServeHTTP(rec, req)

	assert.True(t, ValidateUUID(seen))
	assert.NotEqual(t, "not-a-real-uuid", seen)
}
