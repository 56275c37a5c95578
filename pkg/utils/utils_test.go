package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}
	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
	if strings.Contains(GenerateID(""), "_") {
		t.Error("expected no separator without prefix")
	}
}

func TestGenerateCallAndRoomID(t *testing.T) {
	if _, err := uuid.Parse(GenerateCallID()); err != nil {
		t.Errorf("call id is not a uuid: %v", err)
	}
	room := GenerateRoomID()
	if !strings.HasPrefix(room, "room_") {
		t.Errorf("expected prefix 'room_', got %s", room)
	}
	if room == GenerateRoomID() {
		t.Error("expected different room IDs")
	}
}

func TestFormatCallDuration(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{-5, "0s"},
		{0, "0s"},
		{42, "42s"},
		{59, "59s"},
		{60, "1:00"},
		{65, "1:05"},
		{754, "12:34"},
		{3600, "60:00"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatCallDuration(tt.seconds); got != tt.expected {
				t.Errorf("FormatCallDuration(%d) = %q, want %q", tt.seconds, got, tt.expected)
			}
		})
	}
}

func TestSince(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	Now = func() time.Time { return fixed }
	defer func() { Now = time.Now }()

	if got := Since(fixed.Add(-90 * time.Second)); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
}
