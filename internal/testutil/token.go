package testutil

// FixedTokenGenerator generates the same attempt token every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedTokenGenerator produces byte-identical
// registry rows and snapshots.
//
// Unlike release.FixedGenerator which returns tokens in sequence, this
// generator always returns the same token. This is useful for scenarios
// that run exactly one release attempt.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a new fixed attempt token generator.
//
// If token is empty, Generate() returns "test-attempt-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-attempt-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed attempt token.
//
// Implements release.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
