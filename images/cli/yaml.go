package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-yaml"
)

// YAML is a kong.ConfigurationLoader reading flag values
// from a YAML mapping. Keys are flag names, with dashes or
// underscores. Lists become comma separated values.
func YAML(r io.Reader) (kong.Resolver, error) {
	const errCtx = "loading yaml configuration"

	values := map[string]any{}

	if err := yaml.NewDecoder(r).Decode(&values); err != nil &&
		!errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var resolver kong.ResolverFunc = func(
		_ *kong.Context,
		_ *kong.Path,
		flag *kong.Flag,
	) (any, error) {
		for _, key := range []string{
			flag.Name,
			strings.ReplaceAll(flag.Name, "-", "_"),
		} {
			if raw, ok := values[key]; ok {
				return flatten(raw), nil
			}
		}

		return nil, nil //nolint:nilnil // unset flag
	}

	return resolver, nil
}

// flatten turns a decoded YAML value into the string form
// kong parses from the command line.
func flatten(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}

		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
