package swscore

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the module, sent in the HTTP client's User-Agent.
var Version = strings.TrimSpace(versionFile)
