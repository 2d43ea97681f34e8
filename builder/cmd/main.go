// Command build-platform builds one platform image, pushes it by
// digest and writes the digest record the merge step collects.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/byte4ever/multiarch/builder"
	"github.com/byte4ever/multiarch/images/buildx"
	"github.com/byte4ever/multiarch/images/cli"
	"github.com/byte4ever/multiarch/images/exec"
)

type flags struct {
	cli.Common

	Registry       string   `name:"registry" env:"REGISTRY" default:"docker.io" help:"Registry host used when the image names none."`
	Image          string   `name:"image" env:"IMAGE" required:"" help:"Image repository, e.g. u/app."`
	Tag            string   `name:"tag" env:"TAG" required:"" help:"Tag recorded in the digest file name."`
	Platform       []string `name:"platform" env:"PLATFORM" required:"" help:"Target platform, repeatable or comma separated."`
	Context        string   `name:"context" env:"BUILD_CONTEXT" default:"." help:"Build context path."`
	Dockerfile     string   `name:"dockerfile" env:"DOCKERFILE" help:"Dockerfile path."`
	Target         string   `name:"target" env:"BUILD_TARGET" help:"Multi-stage build target."`
	BuildArgs      string   `name:"build-args" env:"BUILD_ARGS" help:"Newline separated KEY=VALUE build arguments."`
	DigestsDir     string   `name:"digests-dir" env:"DIGESTS_DIR" default:"digests" type:"path" help:"Directory receiving digest records."`
	Pattern        string   `name:"pattern" env:"DIGEST_NAME" default:"${digest_name}" help:"Digest record name template."`
	ArtifactPrefix string   `name:"artifact-prefix" env:"ARTIFACT_PREFIX" default:"digests" help:"Prefix of the reported artifact name."`
	Parallelism    int      `name:"parallelism" env:"PARALLELISM" default:"1" help:"Concurrent builds for local multi-platform runs."`
	OutputFile     string   `name:"output-file" env:"GITHUB_OUTPUT" help:"Append step outputs to this file."`
	DockerCmd      string   `name:"docker-cmd" env:"DOCKER_CMD" default:"docker" help:"Docker CLI binary."`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(exec.ExitCode(err))
	}
}

func run() error {
	const errCtx = "running build-platform"

	var f flags

	if err := cli.Parse(
		"build-platform",
		"Build one platform image and push it by digest.",
		&f, &f.Common,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	res, err := builder.Run(ctx, builder.Config{
		Registry:       f.Registry,
		Image:          f.Image,
		Tag:            f.Tag,
		Platforms:      f.Platform,
		Context:        f.Context,
		Dockerfile:     f.Dockerfile,
		Target:         f.Target,
		BuildArgs:      f.BuildArgs,
		DigestsDir:     f.DigestsDir,
		Pattern:        f.Pattern,
		ArtifactPrefix: f.ArtifactPrefix,
		Parallelism:    f.Parallelism,
		Builder:        &buildx.Builder{Command: f.DockerCmd},
		OutputFile:     f.OutputFile,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	for _, bd := range res.Builds {
		fmt.Printf("%s %s\n", bd.Record.Digest, bd.Record.Path)
	}

	return nil
}
