package ociindex

import (
	"context"
	_ "crypto/sha256" // registers the sha256 digest algorithm
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/manifest"
)

// Docker schema 2 media types, accepted next to their OCI
// equivalents.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

const defaultUserAgent = "multiarch/1.0"

var (
	// ErrUnsupportedMediaType is returned for a source that
	// is neither an image manifest nor an index.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrForeignSource is returned when a source lives in a
	// different repository than the target.
	ErrForeignSource = errors.New("source outside target repository")
)

// Publisher assembles and pushes image indexes with
// oras-go.
type Publisher struct {
	plainHTTP bool
	userAgent string
	store     credentials.Store
	logger    *slog.Logger
	target    TargetFunc

	client *auth.Client
}

// New creates a Publisher with opts.
func New(opts ...Option) *Publisher {
	p := &Publisher{userAgent: defaultUserAgent}

	for _, opt := range opts {
		opt(p)
	}

	p.client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Header: http.Header{"User-Agent": []string{p.userAgent}},
	}

	if p.store != nil {
		p.client.Credential = credentials.Credential(p.store)
	}

	if p.target == nil {
		p.target = p.repository
	}

	return p
}

func (p *Publisher) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}

	return p.logger
}

// repository opens the remote repository of ref, sharing
// one auth client so tokens are reused.
func (p *Publisher) repository(ref imageref.Ref) (oras.Target, error) {
	repo, err := remote.NewRepository(ref.Name())
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	repo.PlainHTTP = p.plainHTTP
	repo.Client = p.client

	return repo, nil
}

// Create pushes an image index over sources and tags it
// with target's tag. Sources that are indexes themselves
// are flattened into their entries. The tag is only
// written after every source resolved.
func (p *Publisher) Create(
	ctx context.Context,
	target imageref.Ref,
	sources []imageref.Ref,
) error {
	const errCtx = "creating image index"

	repo, err := p.target(target)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, target, err)
	}

	var (
		entries []ocispec.Descriptor
		seen    = map[string]bool{}
	)

	for _, src := range sources {
		if src.Name() != target.Name() {
			return fmt.Errorf(
				"%s: %w: %s not in %s",
				errCtx, ErrForeignSource, src, target.Name(),
			)
		}

		descs, err := p.describe(ctx, repo, src)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, d := range descs {
			if seen[d.Digest.String()] {
				continue
			}

			seen[d.Digest.String()] = true
			entries = append(entries, d)
		}
	}

	body, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: entries,
	})
	if err != nil {
		return fmt.Errorf("%s: encode index: %w", errCtx, err)
	}

	desc, err := oras.TagBytes(
		ctx, repo, ocispec.MediaTypeImageIndex, body, target.Reference,
	)
	if err != nil {
		return fmt.Errorf("%s: push %s: %w", errCtx, target, err)
	}

	p.log().Info(
		"image index pushed",
		"target", target.String(),
		"digest", desc.Digest.String(),
		"manifests", len(entries),
	)

	return nil
}

// describe returns the index entries for src: one
// descriptor with its platform for an image manifest, or
// the entries of an index.
func (p *Publisher) describe(
	ctx context.Context,
	repo oras.Target,
	src imageref.Ref,
) ([]ocispec.Descriptor, error) {
	const errCtx = "describing source"

	desc, err := repo.Resolve(ctx, src.Reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, src, err)
	}

	body, err := content.FetchAll(ctx, repo, desc)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, src, err)
	}

	switch desc.MediaType {
	case ocispec.MediaTypeImageIndex, MediaTypeDockerManifestList:
		var idx ocispec.Index
		if err := json.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", errCtx, src, err)
		}

		p.log().Debug(
			"flattening source index",
			"source", src.String(),
			"manifests", len(idx.Manifests),
		)

		return idx.Manifests, nil

	case ocispec.MediaTypeImageManifest, MediaTypeDockerManifest:
		var man ocispec.Manifest
		if err := json.Unmarshal(body, &man); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", errCtx, src, err)
		}

		cfgBody, err := content.FetchAll(ctx, repo, man.Config)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %s: config: %w", errCtx, src, err,
			)
		}

		var img ocispec.Image
		if err := json.Unmarshal(cfgBody, &img); err != nil {
			return nil, fmt.Errorf(
				"%s: %s: config: %w", errCtx, src, err,
			)
		}

		platform := img.Platform

		return []ocispec.Descriptor{{
			MediaType: desc.MediaType,
			Digest:    desc.Digest,
			Size:      desc.Size,
			Platform:  &platform,
		}}, nil

	default:
		return nil, fmt.Errorf(
			"%s: %s: %w %q",
			errCtx, src, ErrUnsupportedMediaType, desc.MediaType,
		)
	}
}

// Inspect resolves target's tag and decodes the index it
// points to.
func (p *Publisher) Inspect(
	ctx context.Context,
	target imageref.Ref,
) (*manifest.Inspection, error) {
	const errCtx = "inspecting image index"

	repo, err := p.target(target)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, target, err)
	}

	desc, err := repo.Resolve(ctx, target.Reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, target, err)
	}

	if desc.MediaType != ocispec.MediaTypeImageIndex &&
		desc.MediaType != MediaTypeDockerManifestList {
		return nil, fmt.Errorf(
			"%s: %s: %w %q",
			errCtx, target, ErrUnsupportedMediaType, desc.MediaType,
		)
	}

	body, err := content.FetchAll(ctx, repo, desc)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, target, err)
	}

	var idx ocispec.Index
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, target, err)
	}

	return &manifest.Inspection{
		Reference: target.String(),
		Digest:    desc.Digest,
		MediaType: desc.MediaType,
		Manifests: idx.Manifests,
	}, nil
}
