package network

import (
	"regexp"
	"strings"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
)

var (
	reservedRe   = regexp.MustCompile(`[<>:"/\\|?*\s]`)
	nonWordRe    = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// Sanitize turns a network name into a safe directory name.
//
// Empty names and the placeholders "unknown" and "off/any" become
// "unknown". Filesystem-reserved characters, whitespace and anything
// outside [A-Za-z0-9_.-] are replaced by underscores, runs of underscores
// collapse, leading and trailing underscores are trimmed and the result is
// cut to 50 bytes.
func Sanitize(name string) string {
	switch strings.ToLower(name) {
	case "", constants.UnknownNetwork, "off/any":
		return constants.UnknownNetwork
	}

	s := reservedRe.ReplaceAllString(name, "_")
	s = nonWordRe.ReplaceAllString(s, "_")
	s = underscoreRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")

	if len(s) > config.MaxNetworkNameLength {
		s = s[:config.MaxNetworkNameLength]
	}

	// "." and ".." would escape the log root.
	if s == "" || strings.Trim(s, ".") == "" {
		return constants.UnknownNetwork
	}
	return s
}
