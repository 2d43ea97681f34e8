package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/byte4ever/multiarch/images/buildx"
	"github.com/byte4ever/multiarch/images/digestfile"
	"github.com/byte4ever/multiarch/images/imageref"
)

// ErrInvalidConfig is returned for an unusable Config.
var ErrInvalidConfig = errors.New("invalid builder config")

// ImageBuilder builds and pushes one platform image by
// digest. *buildx.Builder implements it.
type ImageBuilder interface {
	Build(ctx context.Context, req buildx.BuildRequest) (digest.Digest, error)
}

// Config holds the settings of a build run.
type Config struct {
	// Registry is the registry host, used when Image does
	// not name one.
	Registry string

	// Image is the repository pushed to, without tag.
	Image string

	// Tag is recorded in the digest file names. The
	// images themselves stay untagged.
	Tag string

	// Platforms are the OCI platforms to build, e.g.
	// "linux/arm64".
	Platforms []string

	// Context is the build context directory.
	Context string

	// Dockerfile is the Dockerfile path.
	Dockerfile string

	// Target is an optional multi-stage target.
	Target string

	// BuildArgs holds newline separated KEY=VALUE lines.
	BuildArgs string

	// DigestsDir receives the digest records.
	DigestsDir string

	// Pattern names the digest records from {tag} and
	// {platform}. Empty uses digestfile.DefaultName.
	Pattern string

	// ArtifactPrefix starts the artifact name reported
	// for each record.
	ArtifactPrefix string

	// Parallelism bounds concurrent builds. Values below
	// one mean one.
	Parallelism int

	// Builder runs the builds.
	Builder ImageBuilder

	// OutputFile, when set, gets key=value step outputs
	// appended.
	OutputFile string
}

// Build is the outcome of one platform build.
type Build struct {
	// Platform is the requested platform.
	Platform string

	// Slug is the platform with slashes replaced.
	Slug string

	// Record is the digest record written for the build.
	Record digestfile.Record

	// ArtifactName is {prefix}-{tag}-{slug}.
	ArtifactName string
}

// Result lists the builds in platform order.
type Result struct {
	Builds []Build
}

// job is one planned platform build.
type job struct {
	platform string
	slug     string
	name     string
}

// Run builds every configured platform and writes its
// digest record. The first failure is reported together
// with the number of failed builds.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	const errCtx = "building images"

	repo, err := imageref.Join(cfg.Registry, cfg.Image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := repo.WithTag(cfg.Tag); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if cfg.Builder == nil {
		return nil, fmt.Errorf(
			"%s: %w: builder must be set", errCtx, ErrInvalidConfig,
		)
	}

	args, err := buildx.ParseBuildArgs(cfg.BuildArgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	jobs, err := plan(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	slog.Info(
		"building images",
		"image", repo.Name(),
		"platforms", len(jobs),
		"parallelism", parallelism,
	)

	builds := make([]Build, len(jobs))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	sem := make(chan struct{}, parallelism)

	for i, jb := range jobs {
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()

			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, jb job) {
			defer wg.Done()
			defer func() { <-sem }()

			bd, buildErr := buildOne(ctx, cfg, repo, args, jb)
			if buildErr != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf(
					"build %s: %w", jb.platform, buildErr,
				))
				mu.Unlock()

				return
			}

			builds[i] = bd
		}(i, jb)
	}

	wg.Wait()

	if len(errs) > 0 {
		return nil, fmt.Errorf(
			"%s: %d errors, first: %w",
			errCtx, len(errs), errs[0],
		)
	}

	res := &Result{Builds: builds}

	if err := writeOutputs(cfg.OutputFile, res); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return res, nil
}

// plan validates the platforms and names their records.
// Two platforms that map to the same record are rejected.
func plan(cfg Config) ([]job, error) {
	const errCtx = "planning builds"

	if len(cfg.Platforms) == 0 {
		return nil, fmt.Errorf(
			"%s: %w: no platform", errCtx, ErrInvalidConfig,
		)
	}

	jobs := make([]job, 0, len(cfg.Platforms))
	names := make(map[string]string, len(cfg.Platforms))

	for _, pl := range cfg.Platforms {
		pl = strings.TrimSpace(pl)

		slug, err := digestfile.PlatformSlug(pl)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		name, err := digestfile.Name(cfg.Pattern, cfg.Tag, pl)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if prev, dup := names[name]; dup {
			return nil, fmt.Errorf(
				"%s: %w: %s and %s both write %s",
				errCtx, ErrInvalidConfig, prev, pl, name,
			)
		}

		names[name] = pl
		jobs = append(jobs, job{platform: pl, slug: slug, name: name})
	}

	return jobs, nil
}

func buildOne(
	ctx context.Context,
	cfg Config,
	repo imageref.Ref,
	args []buildx.BuildArg,
	jb job,
) (Build, error) {
	dgst, err := cfg.Builder.Build(ctx, buildx.BuildRequest{
		Image:      repo.Name(),
		Platform:   jb.platform,
		Context:    cfg.Context,
		Dockerfile: cfg.Dockerfile,
		Target:     cfg.Target,
		BuildArgs:  args,
	})
	if err != nil {
		return Build{}, err
	}

	rec, err := digestfile.Write(cfg.DigestsDir, jb.name, dgst)
	if err != nil {
		return Build{}, err
	}

	slog.Info(
		"digest recorded",
		"platform", jb.platform,
		"digest", dgst.String(),
		"file", rec.Path,
	)

	return Build{
		Platform:     jb.platform,
		Slug:         jb.slug,
		Record:       rec,
		ArtifactName: artifactName(cfg.ArtifactPrefix, cfg.Tag, jb.slug),
	}, nil
}

// artifactName joins the non-empty parts with dashes.
func artifactName(prefix, tag, slug string) string {
	parts := make([]string, 0, 3)

	for _, p := range []string{prefix, tag, slug} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return strings.Join(parts, "-")
}

// writeOutputs appends step outputs to path. A single
// build uses plain keys, several builds suffix every key
// with the platform slug.
func writeOutputs(path string, res *Result) error {
	const errCtx = "writing step outputs"

	if path == "" {
		return nil
	}

	var sb strings.Builder

	for _, bd := range res.Builds {
		suffix := ""
		if len(res.Builds) > 1 {
			suffix = "-" + bd.Slug
		}

		fmt.Fprintf(&sb, "digest%s=%s\n", suffix, bd.Record.Digest)
		fmt.Fprintf(&sb, "digest-file%s=%s\n", suffix, bd.Record.Path)
		fmt.Fprintf(&sb, "artifact-name%s=%s\n", suffix, bd.ArtifactName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	//nolint:gosec // step output file is shared with the CI runner
	fh, err := os.OpenFile(
		path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := fh.WriteString(sb.String()); err != nil {
		_ = fh.Close()

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := fh.Close(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
