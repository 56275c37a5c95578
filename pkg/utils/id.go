package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// GenerateCallID returns a unique id for one call attempt.
func GenerateCallID() string {
	return uuid.NewString()
}

// GenerateRoomID returns a fresh signaling room id.
func GenerateRoomID() string {
	return GenerateID("room")
}

func GenerateRequestID() string {
	return GenerateID("req")
}
