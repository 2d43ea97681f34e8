//go:build integration

package ociindex_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/byte4ever/multiarch/images/imageref"
	"github.com/byte4ever/multiarch/images/ociindex"
)

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the address of a shared registry:2
// container, starting it on first use.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistry(context.Background())
	})

	require.NoError(tb, registryErr)

	return registryAddr
}

func startRegistry(ctx context.Context) (string, error) {
	ctr, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "registry:2",
				ExposedPorts: []string{"5000/tcp"},
				WaitingFor: wait.ForHTTP("/v2/").
					WithPort("5000/tcp").
					WithStatusCodeMatcher(func(status int) bool {
						return status >= 200 && status < 300
					}),
			},
			Started: true,
		},
	)
	if err != nil {
		return "", fmt.Errorf("start registry: %w", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("registry host: %w", err)
	}

	port, err := ctr.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

// pushRemoteImage pushes a one-platform image without a
// tag, as a push-by-digest build does.
func pushRemoteImage(
	t *testing.T,
	repo *remote.Repository,
	osName, arch string,
) ocispec.Descriptor {
	t.Helper()

	ctx := context.Background()

	cfg, err := json.Marshal(ocispec.Image{
		Platform: ocispec.Platform{OS: osName, Architecture: arch},
		RootFS:   ocispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{}},
	})
	require.NoError(t, err)

	cfgDesc, err := oras.PushBytes(ctx, repo, ocispec.MediaTypeImageConfig, cfg)
	require.NoError(t, err)

	man, err := json.Marshal(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    cfgDesc,
		Layers:    []ocispec.Descriptor{},
	})
	require.NoError(t, err)

	desc, err := oras.PushBytes(ctx, repo, ocispec.MediaTypeImageManifest, man)
	require.NoError(t, err)

	return desc
}

func TestIntegration_create_index(t *testing.T) {
	addr := getRegistry(t)
	ctx := context.Background()
	name := addr + "/test/multiarch"

	repo, err := remote.NewRepository(name)
	require.NoError(t, err)

	repo.PlainHTTP = true

	amd := pushRemoteImage(t, repo, "linux", "amd64")
	arm := pushRemoteImage(t, repo, "linux", "arm64")

	base, err := imageref.Parse(name)
	require.NoError(t, err)

	target, err := base.WithTag("25.11")
	require.NoError(t, err)

	var sources []imageref.Ref

	for _, d := range []ocispec.Descriptor{amd, arm} {
		src, err := base.WithDigest(d.Digest)
		require.NoError(t, err)

		sources = append(sources, src)
	}

	pub := ociindex.New(ociindex.WithPlainHTTP(true))

	require.NoError(t, pub.Create(ctx, target, sources))

	got, err := pub.Inspect(ctx, target)
	require.NoError(t, err)

	assert.Equal(t, ocispec.MediaTypeImageIndex, got.MediaType)
	assert.ElementsMatch(t,
		[]string{"linux/amd64", "linux/arm64"}, got.Platforms(),
	)
}
