// Package transform holds the concrete asset transforms the pipeline delegates
// to: the Sass compiler, the vendor prefixer, the CSS/SVG minifier and the
// image optimizer.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/conneroisu/assetpipe/internal/errors"
)

// SassCompiler compiles SCSS by running the Dart Sass executable.
type SassCompiler struct {
	command   string
	loadPaths []string
}

// NewSassCompiler creates a compiler that runs command ("sass" when empty).
// Load paths are passed to every invocation in addition to the directory of
// the file being compiled.
func NewSassCompiler(command string, loadPaths []string) *SassCompiler {
	if command == "" {
		command = "sass"
	}
	return &SassCompiler{command: command, loadPaths: loadPaths}
}

// Available reports whether the compiler executable is on PATH.
func (c *SassCompiler) Available() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%s not found on PATH; install Dart Sass (npm install -g sass): %w", c.command, err)
	}
	return nil
}

// Compile turns one SCSS source into CSS. A syntax error comes back as a
// compile PipelineError located at the offending line.
func (c *SassCompiler) Compile(ctx context.Context, path string, src []byte) ([]byte, error) {
	if err := c.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.command, c.args(path)...)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg, line, col := parseSassError(stderr.String())
		if msg == "" {
			msg = "sass failed"
		}
		return nil, apperrors.NewCompileError(msg, err).WithLocation(path, line, col)
	}

	return stdout.Bytes(), nil
}

func (c *SassCompiler) args(path string) []string {
	args := []string{"--stdin", "--no-source-map", "--style=expanded"}
	args = append(args, "--load-path="+filepath.Dir(path))
	for _, p := range c.loadPaths {
		args = append(args, "--load-path="+p)
	}
	return args
}

// validateCommand checks the configured executable and load paths for shell
// metacharacters. The directory of the compiled file comes from the project
// tree and is passed as a single argv entry, so it is not checked.
func (c *SassCompiler) validateCommand() error {
	allowedCommands := map[string]bool{
		"sass":      true,
		"dart-sass": true,
	}
	if !allowedCommands[filepath.Base(c.command)] {
		return fmt.Errorf("command '%s' is not allowed", c.command)
	}

	dangerous := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, p := range c.loadPaths {
		for _, char := range dangerous {
			if strings.Contains(p, char) {
				return fmt.Errorf("invalid load path '%s': contains dangerous character: %s", p, char)
			}
		}
	}
	return nil
}

var sassLocation = regexp.MustCompile(`(\d+):(\d+)\s+root stylesheet`)

// parseSassError extracts the message and position from Dart Sass stderr:
//
//	Error: expected ";".
//	  ╷
//	3 │   color: red
//	  │             ^
//	  ╵
//	  - 3:13  root stylesheet
func parseSassError(stderr string) (msg string, line, col int) {
	for _, l := range strings.Split(stderr, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "Error: ") {
			msg = strings.TrimPrefix(l, "Error: ")
			break
		}
	}
	if m := sassLocation.FindStringSubmatch(stderr); m != nil {
		line, _ = strconv.Atoi(m[1])
		col, _ = strconv.Atoi(m[2])
	}
	return msg, line, col
}
