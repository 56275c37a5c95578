package validation

import (
	"strings"
	"testing"
)

const sampleSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

func TestValidateIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		value   string
		wantErr bool
	}{
		{"user ok", ValidateUserID, "user_42", false},
		{"user email-like", ValidateUserID, "alice@example.com", false},
		{"user empty", ValidateUserID, "", true},
		{"user spaces", ValidateUserID, "bad user", true},
		{"call uuid", ValidateCallID, "0b7f2c9e-9a54-4f2e-a3f5-2a4d47c2e9a1", false},
		{"call too long", ValidateCallID, strings.Repeat("a", 129), true},
		{"room ok", ValidateRoomID, "room_abc", false},
		{"room slash", ValidateRoomID, "room/abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSDP(t *testing.T) {
	tests := []struct {
		name    string
		sdp     string
		wantErr bool
	}{
		{"valid", sampleSDP, false},
		{"empty", "", true},
		{"no version", "o=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", true},
		{"missing timing", "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSDP(tt.sdp)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSDP() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	if err := ValidateCandidate("candidate:1 1 udp 2130706431 192.168.1.2 5000 typ host"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateCandidate(""); err == nil {
		t.Error("expected error for empty candidate")
	}
	if err := ValidateCandidate("a=candidate"); err == nil {
		t.Error("expected error for missing prefix")
	}
}

func TestValidateICEServerURL(t *testing.T) {
	for _, ok := range []string{"stun:stun.l.google.com:19302", "turn:turn.example.org:3478?transport=udp", "turns:t.example.org"} {
		if err := ValidateICEServerURL(ok); err != nil {
			t.Errorf("ValidateICEServerURL(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "stun:", "http://stun.example.org"} {
		if err := ValidateICEServerURL(bad); err == nil {
			t.Errorf("ValidateICEServerURL(%q) expected error", bad)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"ws://localhost:8081/ws", false},
		{"https://example.com", false},
		{"", true},
		{"ftp://example.com", true},
		{"ws://", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
