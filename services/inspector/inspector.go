// Package inspector extracts the package id and version label from an
// Android artifact by running aapt.
package inspector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/upb/mdm-catalog/internal/observability"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

// PackageInfo is what the catalog needs from an artifact
type PackageInfo struct {
	Pkg     string
	Version string
}

// Inspector reads package metadata from an artifact on disk
type Inspector interface {
	Inspect(ctx context.Context, path string) (*PackageInfo, error)
}

// Config holds configuration for the AAPTInspector
type Config struct {
	Command string
	Timeout time.Duration
}

// AAPTInspector runs `<command> dump badging <path>`
type AAPTInspector struct {
	command string
	timeout time.Duration
	metrics observability.Metrics
	logger  *zap.Logger
}

// NewAAPTInspector creates an inspector. A zero timeout falls back to 30s.
func NewAAPTInspector(config Config, metrics observability.Metrics, logger *zap.Logger) *AAPTInspector {
	if config.Command == "" {
		config.Command = "aapt"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop{}
	}
	return &AAPTInspector{
		command: config.Command,
		timeout: config.Timeout,
		metrics: metrics,
		logger:  logger,
	}
}

var attributePattern = regexp.MustCompile(`(\w+)='([^']*)'`)

// Inspect runs the tool and parses the `package:` line of its output.
// Any failure is an ArtifactInspectionFailed error carrying the exit code
// and stderr lines.
func (i *AAPTInspector) Inspect(ctx context.Context, path string) (*PackageInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, i.command, "dump", "badging", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	i.logger.Debug("running package inspector", zap.String("command", i.command), zap.String("path", path))
	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()

	stderrLines := splitLines(stderr.String())
	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			runErr = fmt.Errorf("inspection timed out after %v: %w", i.timeout, ctx.Err())
		}

		i.logger.Error("could not analyze artifact",
			zap.String("path", path),
			zap.Int("exit_code", exitCode),
			zap.Error(runErr))
		for _, line := range stderrLines {
			i.logger.Error(line, zap.String("path", path))
		}
		i.metrics.ObserveInspection("failed", elapsed)
		return nil, services.NewArtifactInspectionError(exitCode, stderrLines, runErr)
	}

	info := ParseBadging(stdout.String())
	if info.Pkg == "" || info.Version == "" {
		i.logger.Error("artifact dump lacks package name or version",
			zap.String("path", path),
			zap.String("package", info.Pkg),
			zap.String("version", info.Version))
		i.metrics.ObserveInspection("failed", elapsed)
		return nil, services.NewArtifactInspectionError(0, stderrLines,
			fmt.Errorf("missing package name or versionName in output"))
	}

	i.metrics.ObserveInspection("ok", elapsed)
	i.logger.Debug("parsed artifact",
		zap.String("path", path),
		zap.String("package", info.Pkg),
		zap.String("version", info.Version))
	return info, nil
}

// ParseBadging extracts name and versionName from the first `package:` line.
// Missing attributes are left empty.
func ParseBadging(output string) *PackageInfo {
	info := &PackageInfo{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "package:") {
			continue
		}
		for _, m := range attributePattern.FindAllStringSubmatch(line, -1) {
			switch m[1] {
			case "name":
				info.Pkg = m[2]
			case "versionName":
				info.Version = m[2]
			}
		}
		break
	}
	return info
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
