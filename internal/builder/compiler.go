package builder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/narvanalabs/hotfix/internal/models"
)

// CompileRequest describes one module compilation.
type CompileRequest struct {
	Module      string
	Sources     []string
	References  []string
	Defines     []string
	Platform    string
	APILevel    string
	AllowUnsafe bool
	OutputPath  string
}

// CompileResult is what the compiler reported.
type CompileResult struct {
	Success     bool
	Diagnostics []models.Diagnostic
	Output      string
}

// Compiler compiles a module into a standalone library.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}

// CommandCompiler runs a csc-compatible compiler executable.
type CommandCompiler struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandCompiler creates a CommandCompiler for the executable at path.
func NewCommandCompiler(path string, timeout time.Duration, logger *slog.Logger) *CommandCompiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandCompiler{
		path:    path,
		timeout: timeout,
		logger:  logger,
	}
}

// Compile invokes the compiler. A non-nil error means the compiler could not
// be run at all; compile errors are reported through the result.
func (c *CommandCompiler) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := CompilerArgs(req)
	c.logger.Debug("running compiler",
		"module", req.Module,
		"compiler", c.path,
		"sources", len(req.Sources),
		"references", len(req.References),
		"unsafe", req.AllowUnsafe,
	)

	cmd := exec.CommandContext(ctx, c.path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	result := &CompileResult{
		Output:      out.String(),
		Diagnostics: ParseDiagnostics(out.String()),
	}

	if runErr != nil {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) && c.timeout > 0 {
				return nil, fmt.Errorf("compiler %s timed out after %s: %w", c.path, c.timeout, err)
			}
			return nil, fmt.Errorf("compiler %s interrupted: %w", c.path, err)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running compiler %s: %w", c.path, runErr)
		}
		if !hasErrors(result.Diagnostics) {
			result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("compiler exited with code %d", exitErr.ExitCode()),
			})
		}
		return result, nil
	}

	result.Success = !hasErrors(result.Diagnostics)
	return result, nil
}

// CompilerArgs builds the command line for req.
func CompilerArgs(req CompileRequest) []string {
	args := []string{
		"-target:library",
		"-nologo",
		"-deterministic",
		"-optimize+",
		"-out:" + req.OutputPath,
	}

	if req.AllowUnsafe {
		args = append(args, "-unsafe+")
	} else {
		args = append(args, "-unsafe-")
	}

	if defines := EffectiveDefines(req.Defines, req.Platform, req.APILevel); len(defines) > 0 {
		args = append(args, "-define:"+strings.Join(defines, ";"))
	}

	for _, ref := range req.References {
		args = append(args, "-r:"+ref)
	}

	return append(args, req.Sources...)
}

// EffectiveDefines returns the configured symbols followed by the platform
// and API-level symbols, without duplicates.
func EffectiveDefines(defines []string, platform, apiLevel string) []string {
	all := append([]string(nil), defines...)
	all = append(all, PlatformDefines(platform)...)
	all = append(all, APILevelDefines(apiLevel)...)
	return dedupe(all)
}

var platformDefines = map[string][]string{
	"android":             {"UNITY_ANDROID"},
	"ios":                 {"UNITY_IOS", "UNITY_IPHONE"},
	"webgl":               {"UNITY_WEBGL"},
	"standalonewindows":   {"UNITY_STANDALONE_WIN", "UNITY_STANDALONE"},
	"standalonewindows64": {"UNITY_STANDALONE_WIN", "UNITY_STANDALONE"},
	"standaloneosx":       {"UNITY_STANDALONE_OSX", "UNITY_STANDALONE"},
	"standalonelinux64":   {"UNITY_STANDALONE_LINUX", "UNITY_STANDALONE"},
}

// PlatformDefines returns the conventional symbols for a target platform.
func PlatformDefines(platform string) []string {
	if platform == "" {
		return nil
	}
	if defs, ok := platformDefines[strings.ToLower(platform)]; ok {
		return defs
	}
	return []string{"UNITY_" + strings.ToUpper(platform)}
}

var apiLevelDefines = map[string][]string{
	"net_standard_2_0": {"NET_STANDARD_2_0", "NET_STANDARD"},
	"net_standard_2_1": {"NET_STANDARD_2_1", "NET_STANDARD"},
	"net_standard":     {"NET_STANDARD_2_1", "NET_STANDARD"},
	"net_4_6":          {"NET_4_6"},
	"net_unity_4_8":    {"NET_4_6", "NET_UNITY_4_8"},
}

// APILevelDefines returns the conventional symbols for an API compatibility level.
func APILevelDefines(level string) []string {
	if level == "" {
		return nil
	}
	if defs, ok := apiLevelDefines[strings.ToLower(level)]; ok {
		return defs
	}
	return []string{strings.ToUpper(level)}
}

// diagnosticPattern matches "file(line,col): error CS0103: message".
var diagnosticPattern = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s*(error|warning|info)\s+([A-Za-z]+\d+):\s*(.*)$`)

// barePattern matches "error CS2001: message" without a location.
var barePattern = regexp.MustCompile(`^(error|warning|info)\s+([A-Za-z]+\d+):\s*(.*)$`)

// ParseDiagnostics extracts compiler diagnostics from output.
func ParseDiagnostics(output string) []models.Diagnostic {
	var diags []models.Diagnostic
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// csc repeats diagnostics in its summary; keep the first.
		if _, dup := seen[line]; dup {
			continue
		}

		if m := diagnosticPattern.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			diags = append(diags, models.Diagnostic{
				Severity: models.Severity(m[4]),
				File:     m[1],
				Line:     ln,
				Column:   col,
				Code:     m[5],
				Message:  m[6],
			})
			seen[line] = struct{}{}
			continue
		}

		if m := barePattern.FindStringSubmatch(line); m != nil {
			diags = append(diags, models.Diagnostic{
				Severity: models.Severity(m[1]),
				Code:     m[2],
				Message:  m[3],
			})
			seen[line] = struct{}{}
		}
	}
	return diags
}

func hasErrors(diags []models.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
