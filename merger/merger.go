package merger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/multiarch/images/digestfile"
	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/manifest"
)

// DuplicatePolicy says what to do with records that carry
// the same digest.
type DuplicatePolicy string

const (
	// DuplicatesDedupe keeps the first record of each
	// digest and warns about the rest.
	DuplicatesDedupe DuplicatePolicy = "dedupe"

	// DuplicatesReject fails the run.
	DuplicatesReject DuplicatePolicy = "reject"

	// DuplicatesKeep passes every record through.
	DuplicatesKeep DuplicatePolicy = "keep"
)

var (
	// ErrDuplicateDigest is returned under
	// DuplicatesReject when two records share a digest.
	ErrDuplicateDigest = errors.New("duplicate digest")

	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = errors.New("invalid merger config")
)

// ParseDuplicatePolicy parses s. Empty selects
// DuplicatesDedupe.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case "":
		return DuplicatesDedupe, nil
	case DuplicatesDedupe, DuplicatesReject, DuplicatesKeep:
		return p, nil
	default:
		return "", fmt.Errorf(
			"%w: unknown duplicate policy %q", ErrInvalidConfig, s,
		)
	}
}

// Publisher creates and reads back manifest lists.
type Publisher interface {
	// Create publishes one manifest list tagged target over
	// sources.
	Create(
		ctx context.Context,
		target imageref.Ref,
		sources []imageref.Ref,
	) error

	// Inspect reads the manifest list tagged target.
	Inspect(
		ctx context.Context,
		target imageref.Ref,
	) (*manifest.Inspection, error)
}

// Config holds the settings of a merge run.
type Config struct {
	// Registry is the registry host, used when Image does
	// not name one.
	Registry string

	// Image is the repository, e.g. "u/app" or
	// "docker.io/u/app".
	Image string

	// Tag is the tag given to the manifest list.
	Tag string

	// DigestsDir is searched recursively for records.
	DigestsDir string

	// Pattern is the glob matched against record base
	// names. Empty uses digestfile.DefaultPattern.
	Pattern string

	// Duplicates is the duplicate digest policy. Empty
	// uses DuplicatesDedupe.
	Duplicates DuplicatePolicy

	// DryRun prints the plan without touching the
	// registry.
	DryRun bool

	// Publisher creates the manifest list.
	Publisher Publisher

	// Out receives the human readable report. Nil
	// discards it.
	Out io.Writer

	// SummaryFile, when set, receives a JSON summary of
	// the run.
	SummaryFile string
}

// Result describes a finished merge.
type Result struct {
	// Target is the tagged manifest list reference.
	Target imageref.Ref

	// Records are the records after the duplicate policy.
	Records []digestfile.Record

	// Sources are the {image}@{digest} addresses, one per
	// record.
	Sources []imageref.Ref

	// Inspection is the published list as read back. Nil
	// for a dry run.
	Inspection *manifest.Inspection
}

// summary is the JSON form of a Result.
type summary struct {
	Target    string   `json:"target"`
	Digest    string   `json:"digest,omitempty"`
	Sources   []string `json:"sources"`
	Platforms []string `json:"platforms,omitempty"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

// Run collects the digest records and publishes the
// manifest list. Every record is validated before the
// publisher is called, so a bad record leaves the registry
// untouched.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	const errCtx = "merging digests"

	target, err := targetRef(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	policy, err := ParseDuplicatePolicy(string(cfg.Duplicates))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if cfg.Publisher == nil && !cfg.DryRun {
		return nil, fmt.Errorf(
			"%s: %w: publisher must be set", errCtx, ErrInvalidConfig,
		)
	}

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = digestfile.DefaultPattern
	}

	records, err := digestfile.Collect(cfg.DigestsDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	records, err = applyPolicy(records, policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	sources, err := sourceRefs(target, records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	res := &Result{
		Target:  target,
		Records: records,
		Sources: sources,
	}

	out := cfg.Out
	if out == nil {
		out = io.Discard
	}

	if cfg.DryRun {
		slog.Info(
			"dry run, skipping publication",
			"target", target.String(),
			"sources", len(sources),
		)

		if err := renderPlan(out, res); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if err := writeSummary(cfg.SummaryFile, res); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return res, nil
	}

	slog.Info(
		"creating manifest list",
		"target", target.String(),
		"sources", len(sources),
	)

	if err := cfg.Publisher.Create(ctx, target, sources); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	res.Inspection, err = cfg.Publisher.Inspect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := res.Inspection.Render(out); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := writeSummary(cfg.SummaryFile, res); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return res, nil
}

// targetRef builds {registry/image}:{tag}.
func targetRef(cfg Config) (imageref.Ref, error) {
	const errCtx = "building target reference"

	repo, err := imageref.Join(cfg.Registry, cfg.Image)
	if err != nil {
		return imageref.Ref{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	target, err := repo.WithTag(cfg.Tag)
	if err != nil {
		return imageref.Ref{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return target, nil
}

// applyPolicy handles records sharing a digest. Order is
// preserved.
func applyPolicy(
	records []digestfile.Record,
	policy DuplicatePolicy,
) ([]digestfile.Record, error) {
	if policy == DuplicatesKeep {
		return records, nil
	}

	var (
		out   = make([]digestfile.Record, 0, len(records))
		first = make(map[string]string, len(records))
	)

	for _, rec := range records {
		key := rec.Digest.String()

		prev, dup := first[key]
		if !dup {
			first[key] = rec.Path
			out = append(out, rec)

			continue
		}

		if policy == DuplicatesReject {
			return nil, fmt.Errorf(
				"%w: %s in %s and %s",
				ErrDuplicateDigest, key, prev, rec.Path,
			)
		}

		slog.Warn(
			"skipping duplicate digest",
			"digest", key,
			"file", rec.Path,
			"first", prev,
		)
	}

	return out, nil
}

// sourceRefs builds one {image}@{digest} address per
// record.
func sourceRefs(
	target imageref.Ref,
	records []digestfile.Record,
) ([]imageref.Ref, error) {
	repo := imageref.Ref{
		Registry:   target.Registry,
		Repository: target.Repository,
	}

	sources := make([]imageref.Ref, 0, len(records))

	for _, rec := range records {
		src, err := repo.WithDigest(rec.Digest)
		if err != nil {
			return nil, fmt.Errorf(
				"building source for %s: %w", rec.Path, err,
			)
		}

		slog.Debug(
			"collected digest",
			"file", rec.Path,
			"source", src.String(),
		)

		sources = append(sources, src)
	}

	return sources, nil
}

// renderPlan writes what a real run would publish.
func renderPlan(w io.Writer, res *Result) error {
	const errCtx = "rendering plan"

	if _, err := fmt.Fprintf(w, "Target: %s\nSources:\n", res.Target); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, src := range res.Sources {
		if _, err := fmt.Fprintf(w, "  %s\n", src); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return nil
}

// writeSummary writes the JSON summary of res to path.
// Empty path is a no-op.
func writeSummary(path string, res *Result) error {
	const errCtx = "writing summary"

	if path == "" {
		return nil
	}

	sum := summary{
		Target:  res.Target.String(),
		Sources: make([]string, 0, len(res.Sources)),
		DryRun:  res.Inspection == nil,
	}

	for _, src := range res.Sources {
		sum.Sources = append(sum.Sources, src.String())
	}

	if res.Inspection != nil {
		sum.Digest = res.Inspection.Digest.String()
		sum.Platforms = res.Inspection.Platforms()
	}

	raw, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil { //nolint:gosec // summary is not secret
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
