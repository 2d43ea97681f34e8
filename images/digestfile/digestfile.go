package digestfile

import (
	_ "crypto/sha256" // registers the sha256 digest algorithm
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	"github.com/valyala/fasttemplate"
)

const (
	// DefaultName is the record file name template used by
	// the builder.
	DefaultName = "{tag}-{platform}.digest"

	// DefaultPattern is the glob matched against record
	// file base names by the merger.
	DefaultPattern = "*.digest"
)

var (
	// ErrNoDigests is returned when no record file matches
	// the pattern.
	ErrNoDigests = errors.New("no digest files found")

	// ErrInvalidDigest is returned when a record does not
	// hold a well-formed content address.
	ErrInvalidDigest = errors.New("invalid digest")

	// ErrInvalidName is returned when a name template
	// cannot be rendered into a plain file name.
	ErrInvalidName = errors.New("invalid digest file name")
)

// Record is one digest record file.
type Record struct {
	// Path is the file location.
	Path string
	// Digest is the validated content address.
	Digest digest.Digest
}

// PlatformSlug normalizes an OCI platform string and
// replaces its slashes with dashes, so "linux/arm/v7"
// becomes "linux-arm-v7".
func PlatformSlug(platform string) (string, error) {
	const errCtx = "making platform slug"

	p, err := platforms.Parse(platform)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.ReplaceAll(platforms.Format(p), "/", "-"), nil
}

// Render substitutes {VAR} placeholders in pattern with
// vars. Unlike a stamp, an unknown placeholder is an error.
func Render(
	pattern string,
	vars map[string]string,
) (string, error) {
	const errCtx = "rendering name"

	tpl, err := fasttemplate.NewTemplate(pattern, "{", "}")
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w: %v", errCtx, ErrInvalidName, err,
		)
	}

	out, err := tpl.ExecuteFuncStringWithErr(
		func(w io.Writer, tag string) (int, error) {
			val, ok := vars[tag]
			if !ok {
				return 0, fmt.Errorf(
					"%w: unknown placeholder {%s}",
					ErrInvalidName, tag,
				)
			}

			return w.Write([]byte(val))
		},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// Name renders the record file name for a tag and
// platform from pattern. The platform is slugged first.
// The result must be a plain file name.
func Name(pattern, tag, platform string) (string, error) {
	const errCtx = "naming digest file"

	if pattern == "" {
		pattern = DefaultName
	}

	slug, err := PlatformSlug(platform)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	name, err := Render(pattern, map[string]string{
		"tag":      tag,
		"platform": slug,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if name == "" || name != filepath.Base(name) ||
		name == "." || name == ".." {
		return "", fmt.Errorf(
			"%s: %w: %q", errCtx, ErrInvalidName, name,
		)
	}

	return name, nil
}

// Write stores dgst in dir/name, creating dir when
// needed. An existing record is overwritten.
func Write(
	dir string,
	name string,
	dgst digest.Digest,
) (Record, error) {
	const errCtx = "writing digest file"

	if err := dgst.Validate(); err != nil {
		return Record{}, fmt.Errorf(
			"%s: %w: %q: %v",
			errCtx, ErrInvalidDigest, dgst, err,
		)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	pa := filepath.Join(dir, name)

	//nolint:gosec // digest records are public content addresses
	if err := os.WriteFile(
		pa, []byte(dgst.String()+"\n"), 0o644,
	); err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return Record{Path: pa, Digest: dgst}, nil
}

// Read loads and validates the record at path. Leading
// and trailing whitespace is ignored.
func Read(path string) (Record, error) {
	const errCtx = "reading digest file"

	raw, err := os.ReadFile(path) //nolint:gosec // path comes from Find or the caller
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	val := strings.TrimSpace(string(raw))

	dgst, err := digest.Parse(val)
	if err != nil {
		return Record{}, fmt.Errorf(
			"%s: %w in %s: %q: %v",
			errCtx, ErrInvalidDigest, path, val, err,
		)
	}

	return Record{Path: path, Digest: dgst}, nil
}

// Find walks dir and returns every regular file whose base
// name matches the glob pattern, sorted by path. A missing
// dir yields no matches.
func Find(dir, pattern string) ([]string, error) {
	const errCtx = "finding digest files"

	if pattern == "" {
		pattern = DefaultPattern
	}

	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf(
			"%s: pattern %q: %w", errCtx, pattern, err,
		)
	}

	var matches []string

	err := filepath.WalkDir(
		dir,
		func(pa string, de fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if pa == dir && errors.Is(walkErr, fs.ErrNotExist) {
					return fs.SkipAll
				}

				return walkErr
			}

			if !de.Type().IsRegular() {
				return nil
			}

			ok, _ := filepath.Match(pattern, de.Name())
			if ok {
				matches = append(matches, pa)
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	sort.Strings(matches)

	return matches, nil
}

// Collect finds and reads every record under dir matching
// pattern. It fails with ErrNoDigests when none match and
// with ErrInvalidDigest on the first malformed record.
func Collect(dir, pattern string) ([]Record, error) {
	const errCtx = "collecting digests"

	paths, err := Find(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf(
			"%s: %w in %s", errCtx, ErrNoDigests, dir,
		)
	}

	records := make([]Record, 0, len(paths))

	for _, pa := range paths {
		rec, err := Read(pa)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		records = append(records, rec)
	}

	return records, nil
}
