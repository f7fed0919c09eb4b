package processor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Engine runs the external rule-evaluation engine over an extracted archive.
// The pipeline treats the result as an opaque serialized string; failures
// abort the run.
type Engine interface {
	// Version identifies the engine build for the report info stamp.
	Version() string
	// Components lists every analysis component the engine offers.
	Components() []string
	// Analyze evaluates the enabled components over dir and returns the
	// engine's serialized result.
	Analyze(ctx context.Context, dir string, components []string) (string, error)
}

// CommandEngine invokes an external engine binary. The binary receives the
// extracted directory and the enabled components and writes its serialized
// result to stdout.
type CommandEngine struct {
	// Path is the engine executable.
	Path string
	// EngineVersion is reported in the report info stamp.
	EngineVersion string
	// AvailableComponents is the component inventory advertised to the
	// pipeline for target-component selection.
	AvailableComponents []string
}

// Version implements Engine.
func (e *CommandEngine) Version() string {
	if e.EngineVersion == "" {
		return "unknown"
	}
	return e.EngineVersion
}

// Components implements Engine.
func (e *CommandEngine) Components() []string { return e.AvailableComponents }

// Analyze implements Engine by running the engine binary:
//
//	<path> --archive-dir <dir> [--components a,b,c]
//
// Stdout is the serialized result; a non-zero exit is an engine failure with
// stderr attached.
func (e *CommandEngine) Analyze(ctx context.Context, dir string, components []string) (string, error) {
	args := []string{"--archive-dir", dir}
	if len(components) > 0 {
		args = append(args, "--components", strings.Join(components, ","))
	}

	cmd := exec.CommandContext(ctx, e.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("engine %s: %s: %w", e.Path, msg, err)
		}
		return "", fmt.Errorf("engine %s: %w", e.Path, err)
	}
	return stdout.String(), nil
}

// selectComponents filters the engine's component inventory by the
// configured target prefixes. An empty prefix list enables everything.
func selectComponents(available, targetPrefixes []string) []string {
	if len(targetPrefixes) == 0 {
		return available
	}
	var selected []string
	for _, c := range available {
		for _, prefix := range targetPrefixes {
			if strings.HasPrefix(c, prefix) {
				selected = append(selected, c)
				break
			}
		}
	}
	return selected
}
