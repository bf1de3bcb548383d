// Package id generates prefixed identifiers for subscribers and requests.
package id

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// PrefixSubscriber marks event stream subscriber IDs.
	PrefixSubscriber = "sub"
	// PrefixRequest marks HTTP request IDs.
	PrefixRequest = "req"

	requestAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	requestLength   = 12
)

// Generate creates a prefixed NanoID, e.g. "sub-V1StGXR8_Z5jdHi6B-myT".
// Returns an error if the system has insufficient entropy.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// Request creates a short lowercase request ID suitable for log lines and headers.
func Request() (string, error) {
	id, err := gonanoid.Generate(requestAlphabet, requestLength)
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return PrefixRequest + "-" + id, nil
}

// HasPrefix reports whether id was generated with the given prefix.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	return ok && rest != ""
}
