package buildx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/byte4ever/multiarch/images/exec"
	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/manifest"
)

// Publisher creates manifest lists with docker buildx
// imagetools.
type Publisher struct {
	// Runner executes the docker CLI. Nil uses
	// exec.Default.
	Runner exec.Runner
	// Command is the docker binary. Empty uses
	// DefaultCommand.
	Command string
}

// Create publishes a manifest list tagged target that
// references every source. The registry state is changed
// by the external tool in one operation.
func (p *Publisher) Create(
	ctx context.Context,
	target imageref.Ref,
	sources []imageref.Ref,
) error {
	const errCtx = "creating manifest list"

	args := []string{
		"buildx", "imagetools", "create",
		"--tag", target.String(),
	}

	for _, src := range sources {
		args = append(args, src.String())
	}

	if _, err := runner(p.Runner).Run(
		ctx, "", command(p.Command), args...,
	); err != nil {
		return fmt.Errorf(
			"%s: %s: %w", errCtx, target, err,
		)
	}

	slog.Info(
		"manifest list created",
		"target", target.String(),
		"sources", len(sources),
	)

	return nil
}

// Inspect reads the raw manifest list behind target. It
// fails when the tag cannot be resolved.
func (p *Publisher) Inspect(
	ctx context.Context,
	target imageref.Ref,
) (*manifest.Inspection, error) {
	const errCtx = "inspecting manifest list"

	out, err := runner(p.Runner).Run(
		ctx, "", command(p.Command),
		"buildx", "imagetools", "inspect",
		"--raw", target.String(),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, target, err,
		)
	}

	return parseIndex(target, out)
}

// parseIndex decodes the raw index printed by imagetools
// inspect --raw. Docker manifest lists share the OCI index
// field layout.
func parseIndex(
	target imageref.Ref,
	raw string,
) (*manifest.Inspection, error) {
	const errCtx = "parsing manifest list"

	body := []byte(strings.TrimSuffix(raw, "\n"))

	var idx ocispec.Index
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf(
			"%s: %s: %w", errCtx, target, err,
		)
	}

	if len(idx.Manifests) == 0 {
		return nil, fmt.Errorf(
			"%s: %s: not a manifest list", errCtx, target,
		)
	}

	return &manifest.Inspection{
		Reference: target.String(),
		Digest:    digest.FromBytes(body),
		MediaType: idx.MediaType,
		Manifests: idx.Manifests,
	}, nil
}
