// Package store provides local profile and path management for Tether.
package store

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrInvalidProfile indicates the profile name format is invalid.
var ErrInvalidProfile = errors.New("invalid profile name: must be lowercase alphanumeric with hyphens, 1-64 characters")

// profileRegex validates profile name format.
// Lowercase alphanumeric and hyphens, no leading/trailing hyphens,
// 1-64 characters.
var profileRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// ValidateProfile validates a profile name.
func ValidateProfile(name string) error {
	if name == "" || len(name) > 64 {
		return ErrInvalidProfile
	}
	if !profileRegex.MatchString(name) {
		return ErrInvalidProfile
	}
	return nil
}

// ResolveProfile determines the profile to use based on priority chain.
// Priority: explicit > TETHER_PROFILE env > "default".
func ResolveProfile(explicit string) (string, error) {
	if explicit != "" {
		if err := ValidateProfile(explicit); err != nil {
			return "", fmt.Errorf("invalid profile %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if envProfile := os.Getenv("TETHER_PROFILE"); envProfile != "" {
		if err := ValidateProfile(envProfile); err != nil {
			return "", fmt.Errorf("invalid TETHER_PROFILE %q: %w", envProfile, err)
		}
		return envProfile, nil
	}

	return "default", nil
}
