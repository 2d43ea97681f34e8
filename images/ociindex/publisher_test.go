package ociindex_test

import (
	"bytes"
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"

	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/ociindex"
)

const repoName = "registry.example/u/app"

// pushBytes stores raw under its digest and tags it with
// the digest string, so Resolve by digest works as it does
// against a registry.
func pushBytes(
	t *testing.T,
	store *memory.Store,
	mediaType string,
	raw []byte,
) ocispec.Descriptor {
	t.Helper()

	ctx := context.Background()
	desc := content.NewDescriptorFromBytes(mediaType, raw)

	require.NoError(t, store.Push(ctx, desc, bytes.NewReader(raw)))
	require.NoError(t, store.Tag(ctx, desc, desc.Digest.String()))

	return desc
}

// pushImage stores a single-platform image and returns
// its manifest descriptor.
func pushImage(
	t *testing.T,
	store *memory.Store,
	osName, arch string,
) ocispec.Descriptor {
	t.Helper()

	cfg, err := json.Marshal(ocispec.Image{
		Platform: ocispec.Platform{OS: osName, Architecture: arch},
	})
	require.NoError(t, err)

	cfgDesc := pushBytes(t, store, ocispec.MediaTypeImageConfig, cfg)

	man, err := json.Marshal(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    cfgDesc,
		Layers:    []ocispec.Descriptor{},
	})
	require.NoError(t, err)

	return pushBytes(t, store, ocispec.MediaTypeImageManifest, man)
}

func newPublisher(store *memory.Store) *ociindex.Publisher {
	return ociindex.New(
		ociindex.WithTarget(func(imageref.Ref) (oras.Target, error) {
			return store, nil
		}),
	)
}

func ref(t *testing.T, s string) imageref.Ref {
	t.Helper()

	r, err := imageref.Parse(s)
	require.NoError(t, err)

	return r
}

func byDigest(t *testing.T, d digest.Digest) imageref.Ref {
	t.Helper()

	return ref(t, repoName+"@"+d.String())
}

func TestPublisher_Create_and_Inspect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	amd := pushImage(t, store, "linux", "amd64")
	arm := pushImage(t, store, "linux", "arm64")
	pub := newPublisher(store)
	target := ref(t, repoName+":25.11")

	err := pub.Create(ctx, target, []imageref.Ref{
		byDigest(t, amd.Digest),
		byDigest(t, arm.Digest),
	})
	require.NoError(t, err)

	got, err := pub.Inspect(ctx, target)
	require.NoError(t, err)

	tagged, err := store.Resolve(ctx, "25.11")
	require.NoError(t, err)

	assert.Equal(t, tagged.Digest, got.Digest)
	assert.Equal(t, ocispec.MediaTypeImageIndex, got.MediaType)
	assert.Equal(t, repoName+":25.11", got.Reference)
	assert.Equal(t, []string{"linux/amd64", "linux/arm64"}, got.Platforms())
	assert.Equal(t, amd.Digest, got.Manifests[0].Digest)
	assert.Equal(t, arm.Size, got.Manifests[1].Size)
}

func TestPublisher_Create_flattens_indexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	amd := pushImage(t, store, "linux", "amd64")
	arm := pushImage(t, store, "linux", "arm64")

	amd.Platform = &ocispec.Platform{OS: "linux", Architecture: "amd64"}
	arm.Platform = &ocispec.Platform{OS: "linux", Architecture: "arm64"}

	inner, err := json.Marshal(ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{amd, arm},
	})
	require.NoError(t, err)

	innerDesc := pushBytes(t, store, ocispec.MediaTypeImageIndex, inner)
	pub := newPublisher(store)
	target := ref(t, repoName+":latest")

	err = pub.Create(ctx, target, []imageref.Ref{
		byDigest(t, innerDesc.Digest),
		byDigest(t, amd.Digest),
	})
	require.NoError(t, err)

	got, err := pub.Inspect(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, []string{"linux/amd64", "linux/arm64"}, got.Platforms())
}

func TestPublisher_Create_unknown_source(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	amd := pushImage(t, store, "linux", "amd64")
	pub := newPublisher(store)

	err := pub.Create(ctx, ref(t, repoName+":25.11"), []imageref.Ref{
		byDigest(t, amd.Digest),
		byDigest(t, digest.FromString("missing")),
	})
	require.Error(t, err)

	_, err = store.Resolve(ctx, "25.11")
	assert.Error(t, err, "tag must not be written")
}

func TestPublisher_Create_foreign_source(t *testing.T) {
	t.Parallel()

	store := memory.New()
	amd := pushImage(t, store, "linux", "amd64")
	pub := newPublisher(store)

	err := pub.Create(
		context.Background(),
		ref(t, repoName+":25.11"),
		[]imageref.Ref{
			ref(t, "registry.example/other@"+amd.Digest.String()),
		},
	)

	assert.ErrorIs(t, err, ociindex.ErrForeignSource)
}

func TestPublisher_Create_unsupported_source(t *testing.T) {
	t.Parallel()

	store := memory.New()
	blob := pushBytes(t, store, "text/plain", []byte("hello"))
	pub := newPublisher(store)

	err := pub.Create(
		context.Background(),
		ref(t, repoName+":25.11"),
		[]imageref.Ref{byDigest(t, blob.Digest)},
	)

	assert.ErrorIs(t, err, ociindex.ErrUnsupportedMediaType)
}

func TestPublisher_Inspect_missing_tag(t *testing.T) {
	t.Parallel()

	pub := newPublisher(memory.New())

	_, err := pub.Inspect(context.Background(), ref(t, repoName+":nope"))

	assert.Error(t, err)
}

func TestPublisher_Inspect_not_an_index(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	amd := pushImage(t, store, "linux", "amd64")
	require.NoError(t, store.Tag(ctx, amd, "single"))

	_, err := newPublisher(store).Inspect(ctx, ref(t, repoName+":single"))

	assert.ErrorIs(t, err, ociindex.ErrUnsupportedMediaType)
}
