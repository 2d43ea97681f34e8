package buildx

import (
	"context"
	_ "crypto/sha256" // registers the sha256 digest algorithm
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/opencontainers/go-digest"

	"github.com/byte4ever/multiarch/images/exec"
)

// DefaultCommand is the docker CLI binary.
const DefaultCommand = "docker"

// metadataDigestKey is the build metadata entry holding
// the pushed image digest.
const metadataDigestKey = "containerimage.digest"

// ErrNoDigest is returned when a build finishes without
// reporting an image digest.
var ErrNoDigest = errors.New("build reported no image digest")

// BuildRequest describes one single-platform build.
type BuildRequest struct {
	// Image is the repository to push to, without tag.
	Image string
	// Platform is the target platform (e.g. "linux/arm64").
	Platform string
	// Context is the build context path.
	Context string
	// Dockerfile is the Dockerfile path. Empty lets buildx
	// use its default.
	Dockerfile string
	// Target is an optional multi-stage target.
	Target string
	// BuildArgs are passed as --build-arg in order.
	BuildArgs []BuildArg
}

// Builder runs push-by-digest builds.
type Builder struct {
	// Runner executes the docker CLI. Nil uses
	// exec.Default.
	Runner exec.Runner
	// Command is the docker binary. Empty uses
	// DefaultCommand.
	Command string
	// Dir is the working directory for the build.
	Dir string
}

// Build runs docker buildx build for req, pushing the
// result by digest with no tag, and returns the digest
// recorded in the build metadata file.
func (b *Builder) Build(
	ctx context.Context,
	req BuildRequest,
) (digest.Digest, error) {
	const errCtx = "building image"

	if req.Image == "" || req.Platform == "" {
		return "", fmt.Errorf(
			"%s: image and platform must be set", errCtx,
		)
	}

	tmp, err := os.MkdirTemp("", "buildx-metadata-")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			slog.Warn(
				"failed to remove metadata dir",
				"dir", tmp,
				"error", rmErr,
			)
		}
	}()

	metaPath := filepath.Join(tmp, "metadata.json")

	if _, err := runner(b.Runner).Run(
		ctx, b.Dir, command(b.Command),
		BuildCommandArgs(req, metaPath)...,
	); err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, req.Platform, err,
		)
	}

	dgst, err := readMetadataDigest(metaPath)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, req.Platform, err,
		)
	}

	slog.Info(
		"image pushed by digest",
		"image", req.Image,
		"platform", req.Platform,
		"digest", dgst.String(),
	)

	return dgst, nil
}

// BuildCommandArgs returns the docker arguments for req writing
// build metadata to metaPath.
func BuildCommandArgs(req BuildRequest, metaPath string) []string {
	args := []string{
		"buildx", "build",
		"--platform", req.Platform,
	}

	if req.Dockerfile != "" {
		args = append(args, "--file", req.Dockerfile)
	}

	if req.Target != "" {
		args = append(args, "--target", req.Target)
	}

	for _, ba := range req.BuildArgs {
		args = append(args, "--build-arg", ba.String())
	}

	output := strings.Join([]string{
		"type=image",
		"name=" + req.Image,
		"push-by-digest=true",
		"name-canonical=true",
		"push=true",
	}, ",")

	contextDir := req.Context
	if contextDir == "" {
		contextDir = "."
	}

	return append(args,
		"--output", output,
		"--metadata-file", metaPath,
		contextDir,
	)
}

// readMetadataDigest extracts and validates the image
// digest from a buildx metadata file.
func readMetadataDigest(path string) (digest.Digest, error) {
	const errCtx = "reading build metadata"

	raw, err := os.ReadFile(path) //nolint:gosec // path is created by Build
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf(
			"%s: parse json: %w", errCtx, err,
		)
	}

	val, _ := meta[metadataDigestKey].(string)
	if val == "" {
		return "", fmt.Errorf("%s: %w", errCtx, ErrNoDigest)
	}

	dgst, err := digest.Parse(val)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %q: %w", errCtx, val, err,
		)
	}

	return dgst, nil
}

func runner(rn exec.Runner) exec.Runner {
	if rn == nil {
		return exec.Default
	}

	return rn
}

func command(cmd string) string {
	if cmd == "" {
		return DefaultCommand
	}

	return cmd
}
