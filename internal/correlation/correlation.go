// Package correlation tags each shell request with an identifier that is
// carried through the allocator's logs and spans.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/addrlease/internal/svcfields"
)

// MaxIDLength defines the maximum number of characters accepted for correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// Generate returns a fresh time-ordered identifier (UUIDv7).
func Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Normalize trims id and reports whether it is usable: non-empty, at most
// MaxIDLength characters, printable ASCII only.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// With returns ctx carrying id. Invalid identifiers leave ctx untouched.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// New returns ctx carrying a freshly generated identifier.
func New(ctx context.Context) context.Context {
	return With(ctx, Generate())
}

// ID returns the identifier carried by ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Logger returns logger tagged with the identifier carried by ctx, if any.
func Logger(ctx context.Context, logger pslog.Logger) pslog.Logger {
	logger = svcfields.EnsureLogger(logger)
	if id := ID(ctx); id != "" {
		return logger.With(svcfields.CorrelationKey, id)
	}
	return logger
}
