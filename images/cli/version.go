package cli

import (
	"fmt"
	"runtime"
	"strings"
)

const undefined = "(undefined)"

// Set with -ldflags "-X github.com/byte4ever/multiarch/images/cli.version=..."
var (
	version   = ""
	gitCommit = ""
)

// Version returns the release version without a "v"
// prefix, or "(undefined)" for local builds.
func Version() string {
	v := strings.TrimSpace(version)
	if v == "" {
		return undefined
	}

	return strings.TrimPrefix(strings.ToLower(v), "v")
}

// VersionString returns "<version> <commit> [<arch>]".
func VersionString() string {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" {
		commit = undefined
	}

	return fmt.Sprintf("%s %s [%s]", Version(), commit, runtime.GOARCH)
}
