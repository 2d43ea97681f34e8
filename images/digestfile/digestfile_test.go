package digestfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/multiarch/images/digestfile"
)

const (
	digestA = "sha256:" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	digestB = "sha256:" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// writeTemp creates a file with content under dir and
// returns its path.
func writeTemp(
	tb testing.TB,
	dir string,
	name string,
	content string,
) string {
	tb.Helper()

	pa := filepath.Join(dir, name)
	require.NoError(tb, os.MkdirAll(filepath.Dir(pa), 0o755))
	require.NoError(
		tb,
		os.WriteFile(pa, []byte(content), 0o600),
	)

	return pa
}

func TestPlatformSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		platform string
		want     string
	}{
		{"linux/amd64", "linux-amd64"},
		{"linux/arm64", "linux-arm64"},
		{"linux/arm/v7", "linux-arm-v7"},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			t.Parallel()

			got, err := digestfile.PlatformSlug(tt.platform)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlatformSlug_invalid(t *testing.T) {
	t.Parallel()

	_, err := digestfile.PlatformSlug("linux/amd64/v2/extra")

	assert.Error(t, err)
}

func TestName_default_pattern(t *testing.T) {
	t.Parallel()

	got, err := digestfile.Name("", "25.11", "linux/arm64")

	require.NoError(t, err)
	assert.Equal(t, "25.11-linux-arm64.digest", got)
}

func TestName_custom_pattern(t *testing.T) {
	t.Parallel()

	got, err := digestfile.Name(
		"app-{platform}-{tag}.sha", "v1", "linux/amd64",
	)

	require.NoError(t, err)
	assert.Equal(t, "app-linux-amd64-v1.sha", got)
}

func TestName_unknown_placeholder(t *testing.T) {
	t.Parallel()

	_, err := digestfile.Name(
		"{tag}-{arch}.digest", "v1", "linux/amd64",
	)

	assert.ErrorIs(t, err, digestfile.ErrInvalidName)
}

func TestName_rejects_path(t *testing.T) {
	t.Parallel()

	_, err := digestfile.Name(
		"sub/{tag}.digest", "v1", "linux/amd64",
	)

	assert.ErrorIs(t, err, digestfile.ErrInvalidName)
}

func TestRender_keeps_glob(t *testing.T) {
	t.Parallel()

	got, err := digestfile.Render(
		"{tag}-*.digest", map[string]string{"tag": "v2"},
	)

	require.NoError(t, err)
	assert.Equal(t, "v2-*.digest", got)
}

func TestWrite_and_Read_roundtrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "digests")

	rec, err := digestfile.Write(
		dir, "v1-linux-amd64.digest", digest.Digest(digestA),
	)
	require.NoError(t, err)

	raw, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, digestA+"\n", string(raw))

	got, err := digestfile.Read(rec.Path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestWrite_invalid_digest(t *testing.T) {
	t.Parallel()

	_, err := digestfile.Write(
		t.TempDir(), "x.digest", digest.Digest("sha256:zz"),
	)

	assert.ErrorIs(t, err, digestfile.ErrInvalidDigest)
}

func TestRead_trims_whitespace(t *testing.T) {
	t.Parallel()

	pa := writeTemp(t, t.TempDir(), "a.digest", "  "+digestA+"\n\n")

	rec, err := digestfile.Read(pa)

	require.NoError(t, err)
	assert.Equal(t, digest.Digest(digestA), rec.Digest)
}

func TestRead_malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"not a digest", "not-a-digest"},
		{"empty", ""},
		{"short hex", "sha256:abc"},
		{"unknown algorithm", "md5:d41d8cd98f00b204e9800998ecf8427e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pa := writeTemp(t, t.TempDir(), "bad.digest", tt.content)

			_, err := digestfile.Read(pa)

			require.ErrorIs(t, err, digestfile.ErrInvalidDigest)
			assert.ErrorContains(t, err, pa)
		})
	}
}

func TestFind_recursive_sorted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTemp(t, dir, "b.digest", digestB)
	writeTemp(t, dir, "a.digest", digestA)
	writeTemp(t, dir, "nested/c.digest", digestA)
	writeTemp(t, dir, "readme.txt", "nope")

	got, err := digestfile.Find(dir, "")

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.digest"),
		filepath.Join(dir, "b.digest"),
		filepath.Join(dir, "nested", "c.digest"),
	}, got)
}

func TestFind_missing_dir(t *testing.T) {
	t.Parallel()

	got, err := digestfile.Find(
		filepath.Join(t.TempDir(), "absent"), "",
	)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFind_bad_pattern(t *testing.T) {
	t.Parallel()

	_, err := digestfile.Find(t.TempDir(), "[")

	assert.Error(t, err)
}

func TestCollect_records(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTemp(t, dir, "25.11-linux-amd64.digest", digestA)
	writeTemp(t, dir, "25.11-linux-arm64.digest", digestB+"\n")

	got, err := digestfile.Collect(dir, "")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, digest.Digest(digestA), got[0].Digest)
	assert.Equal(t, digest.Digest(digestB), got[1].Digest)
}

func TestCollect_empty_dir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := digestfile.Collect(dir, "")

	require.ErrorIs(t, err, digestfile.ErrNoDigests)
	assert.True(
		t,
		strings.Contains(err.Error(), "no digest files found"),
	)
}

func TestCollect_malformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTemp(t, dir, "a.digest", digestA)
	writeTemp(t, dir, "b.digest", "not-a-digest")

	_, err := digestfile.Collect(dir, "")

	assert.ErrorIs(t, err, digestfile.ErrInvalidDigest)
}
