package aflsancov

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var rawVersion string

// Version is the release string from the VERSION file at the repository root.
func Version() string {
	return strings.TrimSpace(rawVersion)
}
