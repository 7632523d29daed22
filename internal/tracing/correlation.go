// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing assigns each inbound request a correlation id, stores it
// on the request context, and echoes it in the response header. The id is
// not copied onto queue entries and does not reach the agent runner's logs.
package tracing

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Header names checked, in order, for an inbound correlation id.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NewCorrelationID mints a fresh correlation id.
func NewCorrelationID() string {
	return uuid.New().String()
}

// ValidateUUID reports whether s looks like a UUID.
func ValidateUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

// ToContext stores a correlation id on ctx.
func ToContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// FromContext returns the correlation id stored on ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok
}

// FromContextOrEmpty returns the correlation id stored on ctx, or "".
func FromContextOrEmpty(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id
}

// ExtractFromRequest reads a correlation id from either supported header.
func ExtractFromRequest(r *http.Request) string {
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		return id
	}
	return r.Header.Get(HeaderRequestID)
}

// CorrelationMiddleware extracts a correlation id from the request, mints
// one if absent or malformed, stores it on the request context, and echoes
// it back on the response.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ExtractFromRequest(r)
		if id == "" || !ValidateUUID(id) {
			id = NewCorrelationID()
		}
		ctx := ToContext(r.Context(), id)
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
