package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"valid session ID", "session-123", false},
		{"valid with underscore", "session_123", false},
		{"valid join code", "bqk7m2xp", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "session 123", true},
		{"invalid chars 2", "session@123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		peerID  string
		wantErr bool
	}{
		{"valid peer ID", "peer_a1b2c3d4", false},
		{"valid with dash", "peer-123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "peer 123", true},
		{"invalid chars 2", "peer@123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.peerID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePeerID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantErr     bool
	}{
		{"valid name", "Alice", false},
		{"valid with spaces", "Alice B", false},
		{"unicode name", "Алиса", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 51), true},
		{"max length ok", strings.Repeat("a", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.displayName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid username", "user123", false},
		{"valid with underscore", "user_name", false},
		{"valid with dash", "user-name", false},
		{"too short", "ab", true},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 51), true},
		{"invalid chars", "user name", true},
		{"invalid chars 2", "user@name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"minimum length", "pass12", false},
		{"empty", "", true},
		{"too short", "pass", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid ws", "ws://example.com/ws", false},
		{"valid wss", "wss://example.com/ws", false},
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "ws://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMaxPeers(t *testing.T) {
	tests := []struct {
		name     string
		maxPeers int
		wantErr  bool
	}{
		{"valid", 8, false},
		{"minimum", 1, false},
		{"maximum", 64, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too high", 65, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxPeers(tt.maxPeers)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxPeers() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("hello", 1, 10, "field"); err != nil {
		t.Errorf("ValidateStringLength() unexpected error: %v", err)
	}
	if err := ValidateStringLength("", 1, 10, "field"); err == nil {
		t.Error("ValidateStringLength() expected error for short string, got nil")
	}
	if err := ValidateStringLength(strings.Repeat("a", 11), 1, 10, "field"); err == nil {
		t.Error("ValidateStringLength() expected error for long string, got nil")
	}
}
