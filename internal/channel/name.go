package channel

import (
	"fmt"
	"regexp"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const userPrefix = "user-"

// ForUser returns the private event channel name for a user id.
func ForUser(userID string) string {
	return userPrefix + userID
}

func Validate(value string) error {
	if value == "" {
		return fmt.Errorf("channel name cannot be empty")
	}

	if len(value) > 255 {
		return fmt.Errorf("channel name: %s cannot have more than 255 bytes", value)
	}

	if !nameRegex.MatchString(value) {
		return fmt.Errorf("channel name: %s format is invalid", value)
	}

	return nil
}
