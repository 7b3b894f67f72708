package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GeneratePeerID generates a unique peer ID
func GeneratePeerID() string {
	return GenerateID("peer")
}

// GenerateInstanceID generates a unique server instance ID
func GenerateInstanceID() string {
	return GenerateID("instance")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}

// sessionAlphabet avoids characters that read ambiguously when a session
// code is shared out loud (0/O, 1/I/L).
const sessionAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// GenerateSessionID generates a short shareable session code.
func GenerateSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)

	var sb strings.Builder
	for _, v := range b {
		sb.WriteByte(sessionAlphabet[int(v)%len(sessionAlphabet)])
	}
	return sb.String()
}
