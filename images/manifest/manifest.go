// Package manifest holds the types shared by manifest list
// publishers.
package manifest

import (
	"fmt"
	"io"
	"strings"

	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Inspection describes a published manifest list as read
// back from the registry.
type Inspection struct {
	// Reference is the inspected tag reference.
	Reference string
	// Digest is the digest of the index manifest.
	Digest digest.Digest
	// MediaType is the index media type.
	MediaType string
	// Manifests are the entries of the index.
	Manifests []ocispec.Descriptor
}

// Platforms returns the formatted platform of every entry
// that declares one, in index order.
func (in *Inspection) Platforms() []string {
	var out []string

	for _, m := range in.Manifests {
		if m.Platform != nil {
			out = append(out, platforms.Format(*m.Platform))
		}
	}

	return out
}

// Render writes a human readable report of the inspection.
func (in *Inspection) Render(w io.Writer) error {
	const errCtx = "rendering inspection"

	repo, _, _ := strings.Cut(in.Reference, "@")
	if i := strings.LastIndex(repo, ":"); i > strings.LastIndex(repo, "/") {
		repo = repo[:i]
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Name:      %s\n", in.Reference)
	fmt.Fprintf(&sb, "MediaType: %s\n", in.MediaType)
	fmt.Fprintf(&sb, "Digest:    %s\n", in.Digest)

	if len(in.Manifests) > 0 {
		sb.WriteString("\nManifests:\n")
	}

	for i, m := range in.Manifests {
		if i > 0 {
			sb.WriteByte('\n')
		}

		fmt.Fprintf(&sb, "  Name:      %s@%s\n", repo, m.Digest)
		fmt.Fprintf(&sb, "  MediaType: %s\n", m.MediaType)

		platform := "unknown"
		if m.Platform != nil {
			platform = platforms.Format(*m.Platform)
		}

		fmt.Fprintf(&sb, "  Platform:  %s\n", platform)
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
