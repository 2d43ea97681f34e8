// Command merge-digests collects the digest records written by the
// per-platform builds and publishes one multi-platform manifest list
// tagged {image}:{tag}.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/byte4ever/multiarch/images/buildx"
	"github.com/byte4ever/multiarch/images/cli"
	"github.com/byte4ever/multiarch/images/exec"
	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/ociindex"
	"github.com/byte4ever/multiarch/merger"
)

type flags struct {
	cli.Common

	Registry    string `name:"registry" env:"REGISTRY" default:"docker.io" help:"Registry host used when the image names none."`
	Image       string `name:"image" env:"IMAGE" required:"" help:"Image repository, e.g. u/app."`
	Tag         string `name:"tag" env:"TAG" required:"" help:"Tag of the manifest list."`
	DigestsDir  string `name:"digests-dir" env:"DIGESTS_DIR" default:"digests" type:"path" help:"Directory searched for digest records."`
	Pattern     string `name:"pattern" env:"DIGEST_PATTERN" default:"${digest_pattern}" help:"Glob matched against record file names."`
	Duplicates  string `name:"duplicates" env:"DUPLICATES" enum:"dedupe,reject,keep" default:"dedupe" help:"Duplicate digest policy (${enum})."`
	DryRun      bool   `name:"dry-run" env:"DRY_RUN" help:"Print the plan without publishing."`
	SummaryFile string `name:"summary-file" env:"SUMMARY_FILE" type:"path" help:"Write a JSON summary here."`

	Backend   string `name:"backend" env:"PUBLISH_BACKEND" enum:"buildx,oras" default:"buildx" help:"Publisher (${enum})."`
	DockerCmd string `name:"docker-cmd" env:"DOCKER_CMD" default:"docker" help:"Docker CLI used by the buildx backend."`
	PlainHTTP bool   `name:"plain-http" env:"PLAIN_HTTP" help:"Use plain HTTP with the oras backend."`
	Username  string `name:"username" env:"REGISTRY_USERNAME" help:"Registry user for the oras backend."`
	Password  string `name:"password" env:"REGISTRY_PASSWORD" help:"Registry password for the oras backend."`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(exec.ExitCode(err))
	}
}

func run() error {
	const errCtx = "running merge-digests"

	var f flags

	if err := cli.Parse(
		"merge-digests",
		"Merge per-platform image digests into one manifest list.",
		&f, &f.Common,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	pub, err := newPublisher(f)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := merger.Run(ctx, merger.Config{
		Registry:    f.Registry,
		Image:       f.Image,
		Tag:         f.Tag,
		DigestsDir:  f.DigestsDir,
		Pattern:     f.Pattern,
		Duplicates:  merger.DuplicatePolicy(f.Duplicates),
		DryRun:      f.DryRun,
		Publisher:   pub,
		Out:         os.Stdout,
		SummaryFile: f.SummaryFile,
	}); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// newPublisher selects the manifest list backend.
func newPublisher(f flags) (merger.Publisher, error) {
	if f.Backend != "oras" {
		return &buildx.Publisher{Command: f.DockerCmd}, nil
	}

	repo, err := imageref.Join(f.Registry, f.Image)
	if err != nil {
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	opts := []ociindex.Option{
		ociindex.WithPlainHTTP(f.PlainHTTP),
		ociindex.WithUserAgent("merge-digests/" + cli.Version()),
	}

	if f.Username != "" {
		opts = append(opts,
			ociindex.WithCredentials(repo.Host(), f.Username, f.Password),
		)
	} else {
		opts = append(opts, ociindex.WithDockerConfig())
	}

	return ociindex.New(opts...), nil
}
