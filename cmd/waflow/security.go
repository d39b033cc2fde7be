package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// verifySignature reads the request body and, when a secret is configured,
// checks the X-Hub-Signature-256 header against it. The body is returned so
// the handler never has to read it twice.
func verifySignature(r *http.Request, secret string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if secret == "" {
		// Unsigned mode: the config loader refuses this in production and
		// warns everywhere else.
		return body, nil
	}

	header := r.Header.Get("X-Hub-Signature-256")
	if header == "" {
		return nil, fmt.Errorf("missing signature header: X-Hub-Signature-256")
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}
