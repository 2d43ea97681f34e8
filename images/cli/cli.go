package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/byte4ever/multiarch/images/digestfile"
)

// Common are the flags every command carries.
type Common struct {
	LogLevel string           `name:"log-level" env:"LOG_LEVEL" enum:"debug,info,warn,error" default:"info" help:"Log level (${enum})."`
	Config   kong.ConfigFlag  `name:"config" env:"CONFIG_FILE" help:"YAML file with flag values." placeholder:"PATH"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit."`
}

// Parse parses os.Args into target, a struct embedding
// common, and installs the default logger on stderr.
// Usage errors exit the process.
func Parse(
	name, description string,
	target any,
	common *Common,
) error {
	const errCtx = "parsing command line"

	kong.Parse(target,
		kong.Name(name),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Configuration(YAML),
		kong.Vars{
			"version":        VersionString(),
			"digest_name":    digestfile.DefaultName,
			"digest_pattern": digestfile.DefaultPattern,
		},
	)

	logger, err := NewLogger(os.Stderr, common.LogLevel)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.SetDefault(logger)
	slog.Debug("build", "version", VersionString())

	return nil
}
