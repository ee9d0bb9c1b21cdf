package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var codeRe = regexp.MustCompile(`^\d{2}$`)

const maxNameLen = 50

// UserCode validates and normalizes a raw user code. Codes are exactly two
// digits; the legacy badge printer cannot encode anything longer.
func UserCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", fmt.Errorf("user code is required")
	}
	if !codeRe.MatchString(code) {
		return "", fmt.Errorf("user code %q must be exactly 2 digits", code)
	}
	return code, nil
}

// UserName validates a display name for a user record.
func UserName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("user name is required")
	}
	if len(name) > maxNameLen {
		return "", fmt.Errorf("user name exceeds %d characters", maxNameLen)
	}
	return name, nil
}
