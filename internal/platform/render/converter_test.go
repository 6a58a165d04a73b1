package render

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/platform/logger"
)

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestCommandConverter(t *testing.T) {
	t.Parallel()
	requireCommand(t, "cp")

	src := filepath.Join(t.TempDir(), SourceFile)
	require.NoError(t, os.WriteFile(src, []byte("<html></html>"), 0o644))
	outDir := t.TempDir()

	c := NewCommandConverter(config.ConverterConfig{Command: "cp"}, logger.Discard())
	artifact, err := c.Convert(context.Background(), src, outDir, "A/B Title")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "A_B Title.mobi"), artifact)
	assert.FileExists(t, artifact)
}

func TestCommandConverterFailures(t *testing.T) {
	t.Parallel()
	requireCommand(t, "false")
	requireCommand(t, "true")

	src := filepath.Join(t.TempDir(), SourceFile)

	_, err := NewCommandConverter(config.ConverterConfig{Command: "false"}, logger.Discard()).
		Convert(context.Background(), src, t.TempDir(), "T")
	assert.Error(t, err)

	_, err = NewCommandConverter(config.ConverterConfig{Command: "true"}, logger.Discard()).
		Convert(context.Background(), src, t.TempDir(), "T")
	assert.ErrorIs(t, err, ErrNoArtifact)

	_, err = NewCommandConverter(config.ConverterConfig{Command: "bookpush-no-such-converter"}, logger.Discard()).
		Convert(context.Background(), src, t.TempDir(), "T")
	assert.Error(t, err)
}

func TestArtifactName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Title.mobi", ArtifactName(" Title "))
	assert.Equal(t, "a_b_c.mobi", ArtifactName(`a/b\c`))
	assert.Equal(t, "book.mobi", ArtifactName(""))
	assert.Equal(t, "book.mobi", ArtifactName(".."))
}
