package espalier

import _ "embed"

// Version is the release of the module, embedded from the VERSION file.
//
//go:embed VERSION
var Version string
