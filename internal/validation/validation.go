// Package validation provides centralized input validation for netmon.
//
// Targets end up as command line arguments of ping and as parts of file
// names, so they are checked before anything is probed.
package validation

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSpaces  bool
}

// NetworkNameRules returns the rules for a pinned network name. Detected
// names are sanitized instead of validated.
func NetworkNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSpaces:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ' ':
		return rules.AllowSpaces
	}
	return false
}

// ValidateNetworkName validates a pinned network name.
func ValidateNetworkName(name string) error {
	return ValidateName(name, NetworkNameRules())
}

// =============================================================================
// Host Validation
// =============================================================================

// MaxHostLength is the longest DNS name.
const MaxHostLength = 253

// ValidateHost accepts an IPv4 or IPv6 literal or an RFC 1123 host name.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if host != strings.TrimSpace(host) {
		return fmt.Errorf("host cannot have surrounding whitespace")
	}

	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}

	if len(host) > MaxHostLength {
		return fmt.Errorf("host too long: maximum %d characters allowed", MaxHostLength)
	}

	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if err := validateLabel(label); err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q longer than 63 characters", label)
	}
	// A leading hyphen would be read as an option by ping.
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q cannot start or end with '-'", label)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		case c == '_':
			// Seen in the wild on internal names.
		default:
			return fmt.Errorf("invalid character %q in label %q", c, label)
		}
	}
	return nil
}

// ValidatePort validates a TCP port. Zero means "use the default".
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range 0..65535", port)
	}
	return nil
}
