package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// IdentifierRegex matches user, call and room identifiers.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

const maxIdentifierLength = 128

func validateIdentifier(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > maxIdentifierLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, maxIdentifierLength)
	}
	if !IdentifierRegex.MatchString(value) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

func ValidateUserID(id string) error {
	return validateIdentifier(id, "user ID")
}

func ValidateCallID(id string) error {
	return validateIdentifier(id, "call ID")
}

func ValidateRoomID(id string) error {
	return validateIdentifier(id, "room ID")
}

// ValidateSDP performs a structural check of a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP is empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("SDP must start with version line (v=)")
	}
	for _, line := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, "\n"+line) {
			return fmt.Errorf("SDP is missing required line %q", line)
		}
	}
	return nil
}

// ValidateCandidate checks an ICE candidate attribute value.
func ValidateCandidate(candidate string) error {
	if candidate == "" {
		return fmt.Errorf("candidate is empty")
	}
	if !strings.HasPrefix(candidate, "candidate:") {
		return fmt.Errorf("candidate must start with \"candidate:\"")
	}
	return nil
}

// ValidateICEServerURL checks a stun/turn URL.
func ValidateICEServerURL(raw string) error {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(raw, scheme) {
			if len(raw) == len(scheme) {
				return fmt.Errorf("ICE server URL must have a host")
			}
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server scheme (must be stun, stuns, turn or turns)")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
