// Package validation holds input format checks shared by the HTTP and
// WebSocket surfaces.
package validation

import (
	"fmt"
	"regexp"

	"cfduel/internal/models"
)

var (
	// Judge handle rules: letters, digits, underscore, hyphen and dot,
	// 3 to 24 characters.
	handleRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,24}$`)

	roomCodeRegex = regexp.MustCompile(fmt.Sprintf(`^[A-Z0-9]{%d}$`, models.RoomCodeLength))
)

// ValidateHandle validates a judge handle's format.
func ValidateHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return fmt.Errorf("handle must be 3-24 characters and contain only letters, numbers, '_', '-' and '.'")
	}
	return nil
}

// ValidateRoomCode validates a normalized room code's format.
func ValidateRoomCode(code string) error {
	if !roomCodeRegex.MatchString(code) {
		return fmt.Errorf("room code must be %d letters or digits", models.RoomCodeLength)
	}
	return nil
}

// ValidateRatingBounds validates a room's problem rating range.
func ValidateRatingBounds(minRating, maxRating int) error {
	if minRating <= 0 || maxRating <= 0 {
		return fmt.Errorf("rating bounds must be positive")
	}
	if minRating >= maxRating {
		return fmt.Errorf("minRating must be below maxRating")
	}
	return nil
}
