// Package version carries the build version stamped into responses.
package version

import "strings"

// Version is overridden at build time via -ldflags.
var Version = "0.1.0"

// Fingerprint returns the system_fingerprint value rendered in OpenAI-style
// responses, e.g. "fp_simulator_010".
func Fingerprint() string {
	return "fp_simulator_" + strings.ReplaceAll(Version, ".", "")
}
