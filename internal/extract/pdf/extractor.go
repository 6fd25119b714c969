// Package pdf extracts page text from PDF files using the poppler pdftotext tool.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// DefaultTool is the pdftotext binary looked up on PATH.
const DefaultTool = "pdftotext"

// ErrToolNotFound is returned when pdftotext is not installed.
var ErrToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// Extractor turns a PDF on disk into an ordered list of page texts.
type Extractor struct {
	tool   string
	runner CommandRunner
}

// New creates an Extractor that shells out to tool (DefaultTool when empty).
func New(tool string) *Extractor {
	return NewWithRunner(tool, execRunner{})
}

// NewWithRunner creates an Extractor with a custom command runner.
func NewWithRunner(tool string, runner CommandRunner) *Extractor {
	if tool == "" {
		tool = DefaultTool
	}
	return &Extractor{tool: tool, runner: runner}
}

// CheckAvailable reports whether the configured tool can be found.
func (e *Extractor) CheckAvailable() error {
	if _, err := exec.LookPath(e.tool); err != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, e.tool)
	}
	return nil
}

// Pages extracts the text of every page in document order.
// pdftotext separates pages with a form feed; the trailing one is dropped.
func (e *Extractor) Pages(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, err, domain.ErrExtraction)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, domain.ErrExtraction)
	}

	out, err := e.runner.Run(ctx, e.tool, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftotext failed on %s: %w: %w", path, err, domain.ErrExtraction)
	}

	pages := strings.Split(string(out), "\f")
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages, nil
}
