package codegen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const DefaultBytes = 3

// Generator produces short confirmation codes from a cryptographically secure
// source. Codes are lowercase hex, two characters per random byte. Collisions
// between outstanding codes are tolerated: every confirm path matches the code
// against the specific stored record it was issued for.
type Generator struct {
	bytes int
}

func New(bytes int) (*Generator, error) {
	if bytes < 1 {
		return nil, fmt.Errorf("code length must be at least 1 byte, got %d", bytes)
	}
	return &Generator{bytes: bytes}, nil
}

func (g *Generator) Generate() (string, error) {
	buf := make([]byte, g.bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
