// Package imageref parses and composes container image
// references of the form host/repository[:tag|@digest].
package imageref

import (
	_ "crypto/sha256" // registers the sha256 digest algorithm
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/registry"
)

// ErrInvalidReference is returned when a reference string
// is malformed or has the wrong shape for the operation.
var ErrInvalidReference = errors.New("invalid image reference")

// Ref is a parsed image reference. Reference holds the tag
// or digest and is empty for a bare repository name.
type Ref struct {
	Registry   string
	Repository string
	Reference  string
}

// Parse parses and validates s. The registry host is
// mandatory.
func Parse(s string) (Ref, error) {
	r, err := registry.ParseReference(s)
	if err != nil {
		return Ref{}, fmt.Errorf(
			"%w: %q: %v", ErrInvalidReference, s, err,
		)
	}

	return Ref{
		Registry:   r.Registry,
		Repository: r.Repository,
		Reference:  r.Reference,
	}, nil
}

// Join builds a bare repository reference from a registry
// host and an image name. When image already starts with a
// host component the registry argument is ignored.
func Join(host, image string) (Ref, error) {
	const errCtx = "joining image reference"

	image = strings.TrimSpace(image)
	if image == "" {
		return Ref{}, fmt.Errorf(
			"%s: %w: image must be set",
			errCtx, ErrInvalidReference,
		)
	}

	name := image
	if !hasHost(image) {
		host = strings.TrimSuffix(strings.TrimSpace(host), "/")
		if host == "" {
			return Ref{}, fmt.Errorf(
				"%s: %w: %q has no registry host",
				errCtx, ErrInvalidReference, image,
			)
		}

		name = host + "/" + image
	}

	ref, err := Parse(name)
	if err != nil {
		return Ref{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if ref.Reference != "" {
		return Ref{}, fmt.Errorf(
			"%s: %w: %q must not carry a tag or digest",
			errCtx, ErrInvalidReference, image,
		)
	}

	return ref, nil
}

// hasHost reports whether the first path component of
// image looks like a registry host, following the docker
// convention: it contains a dot or a port, or is localhost.
func hasHost(image string) bool {
	first, _, found := strings.Cut(image, "/")
	if !found {
		return false
	}

	return strings.ContainsAny(first, ".:") || first == "localhost"
}

// Name returns host/repository without tag or digest.
func (r Ref) Name() string {
	return r.Registry + "/" + r.Repository
}

// String returns the canonical form of the reference.
func (r Ref) String() string {
	return r.oras().String()
}

// Host returns the address to contact for the registry.
// Docker Hub's canonical name maps to its API host.
func (r Ref) Host() string {
	return r.oras().Host()
}

// IsDigest reports whether the reference is digest
// qualified.
func (r Ref) IsDigest() bool {
	return r.Reference != "" && r.oras().ValidateReferenceAsDigest() == nil
}

// WithTag returns the repository qualified by tag.
func (r Ref) WithTag(tag string) (Ref, error) {
	out := Ref{
		Registry:   r.Registry,
		Repository: r.Repository,
		Reference:  tag,
	}

	if err := out.oras().ValidateReferenceAsTag(); err != nil {
		return Ref{}, fmt.Errorf(
			"%w: tag %q: %v", ErrInvalidReference, tag, err,
		)
	}

	return out, nil
}

// WithDigest returns the repository qualified by dgst,
// the {image}@{digest} content address.
func (r Ref) WithDigest(dgst digest.Digest) (Ref, error) {
	out := Ref{
		Registry:   r.Registry,
		Repository: r.Repository,
		Reference:  dgst.String(),
	}

	if err := out.oras().ValidateReferenceAsDigest(); err != nil {
		return Ref{}, fmt.Errorf(
			"%w: digest %q: %v", ErrInvalidReference, dgst, err,
		)
	}

	return out, nil
}

func (r Ref) oras() registry.Reference {
	return registry.Reference{
		Registry:   r.Registry,
		Repository: r.Repository,
		Reference:  r.Reference,
	}
}
