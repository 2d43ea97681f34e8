package buildx

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBuildArg is returned for a build argument line
// that is not KEY=VALUE.
var ErrInvalidBuildArg = errors.New("invalid build argument")

// BuildArg is one --build-arg KEY=VALUE pair.
type BuildArg struct {
	Key   string
	Value string
}

// String returns the KEY=VALUE form.
func (ba BuildArg) String() string {
	return ba.Key + "=" + ba.Value
}

// ParseBuildArgs parses newline-separated KEY=VALUE lines.
// Blank lines are skipped, the key is trimmed, and the
// value keeps everything after the first "=".
func ParseBuildArgs(raw string) ([]BuildArg, error) {
	const errCtx = "parsing build args"

	var args []BuildArg

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, val, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf(
				"%s: %w on line %d: %q",
				errCtx, ErrInvalidBuildArg, i+1, line,
			)
		}

		args = append(args, BuildArg{Key: key, Value: val})
	}

	return args, nil
}
