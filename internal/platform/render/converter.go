package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/task"
)

// ArtifactExt is the extension of converted books.
const ArtifactExt = ".mobi"

// ErrNoArtifact is returned when the converter exits cleanly without
// producing its output file.
var ErrNoArtifact = errors.New("converter produced no artifact")

// CommandConverter runs an external converter as
// "<command> <source> <output> <args...>", the calling convention of
// ebook-convert.
type CommandConverter struct {
	command string
	args    []string
	logger  *slog.Logger
}

var _ task.Converter = (*CommandConverter)(nil)

// NewCommandConverter creates a CommandConverter from cfg.
func NewCommandConverter(cfg config.ConverterConfig, l *slog.Logger) *CommandConverter {
	if l == nil {
		l = slog.Default()
	}
	return &CommandConverter{
		command: cfg.Command,
		args:    cfg.Args,
		logger:  l.With(slog.String("component", "converter")),
	}
}

// Convert implements task.Converter. The artifact is <outDir>/<title>.mobi.
func (c *CommandConverter) Convert(ctx context.Context, sourcePath, outDir, title string) (string, error) {
	out := filepath.Join(outDir, ArtifactName(title))

	args := append([]string{sourcePath, out}, c.args...)
	cmd := exec.CommandContext(ctx, c.command, args...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("converter failed",
			"command", c.command,
			"source", sourcePath,
			"output", strings.TrimSpace(lastLines(string(output), 5)),
			"error", err)
		return "", fmt.Errorf("failed to run %s: %w", c.command, err)
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, out)
	}

	c.logger.Info("book converted",
		"source", sourcePath,
		"artifact", out,
		"bytes", info.Size(),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ArtifactName returns the file name a book with title is converted to.
// Path separators are replaced so the name stays inside its directory.
func ArtifactName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" || name == "." || name == ".." {
		name = "book"
	}
	return name + ArtifactExt
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
