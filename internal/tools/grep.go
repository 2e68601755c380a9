package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
)

const defaultGrepMaxResults = 500

// GrepParams are the pattern-search inputs.
type GrepParams struct {
	Pattern string `json:"pattern" jsonschema:"regular expression to search file contents for"`
	Root    string `json:"root" jsonschema:"directory to search under"`
	Glob    string `json:"glob,omitempty" jsonschema:"optional filename glob filter, e.g. *.go"`
	// MaxResults caps returned hits (default 500).
	MaxResults int `json:"max_results,omitempty" jsonschema:"maximum number of hits to return"`
}

// GrepHit is one matching line.
type GrepHit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepResult is the pattern-search payload.
type GrepResult struct {
	Hits      []GrepHit `json:"hits"`
	Truncated bool      `json:"truncated,omitempty"`
}

// GrepTool searches file contents by regular expression. The backend is
// either the in-process regexp engine or an external ripgrep binary; both
// produce the same result shape.
type GrepTool struct {
	desc tool.Descriptor
	cfg  config.GrepConfig
}

var _ tool.Tool = (*GrepTool)(nil)

// NewGrep creates the grep tool.
func NewGrep(cfg config.GrepConfig) (*GrepTool, error) {
	desc, err := tool.NewDescriptor[GrepParams, GrepResult]("grep",
		"Search file contents by regular expression, returning matching lines with positions.")
	if err != nil {
		return nil, err
	}
	return &GrepTool{desc: desc, cfg: cfg}, nil
}

// CheckAvailability verifies the configured backend can run.
func (g *GrepTool) CheckAvailability() error {
	if g.cfg.Backend == "ripgrep" {
		if _, err := exec.LookPath("rg"); err != nil {
			return fmt.Errorf("ripgrep backend selected but rg binary not found in PATH")
		}
	}
	return nil
}

// Descriptor implements tool.Tool.
func (g *GrepTool) Descriptor() tool.Descriptor { return g.desc }

// Run implements tool.Tool.
func (g *GrepTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	var p GrepParams
	if err := tool.DecodeInput(input, &p); err != nil {
		return nil, err
	}
	if p.Pattern == "" {
		return nil, laberrors.New(laberrors.ErrCodeToolInput, "pattern must not be empty", nil)
	}
	if p.Root == "" {
		p.Root = "."
	}
	if p.MaxResults <= 0 {
		p.MaxResults = defaultGrepMaxResults
	}

	timeout := g.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		res *GrepResult
		err error
	)
	if g.cfg.Backend == "ripgrep" {
		res, err = g.runRipgrep(ctx, p)
	} else {
		res, err = g.runRegexp(ctx, p)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, laberrors.ToolTimeout("grep", context.DeadlineExceeded)
		}
		return nil, err
	}

	matched := make(map[string]struct{}, len(res.Hits))
	for _, h := range res.Hits {
		matched[h.Path] = struct{}{}
	}
	summary := map[string]any{
		"hits":      len(res.Hits),
		"files":     len(matched),
		"truncated": res.Truncated,
	}
	if len(res.Hits) > 0 {
		summary["first_path"] = res.Hits[0].Path
	}

	return &tool.Result{
		OK:      true,
		Summary: summary,
		Payload: res,
		Meta:    map[string]any{"backend": g.backendName()},
	}, nil
}

func (g *GrepTool) backendName() string {
	if g.cfg.Backend == "ripgrep" {
		return "ripgrep"
	}
	return "regexp"
}

// runRegexp scans files line by line with the standard regexp engine.
func (g *GrepTool) runRegexp(ctx context.Context, p GrepParams) (*GrepResult, error) {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, laberrors.New(laberrors.ErrCodeToolInput,
			fmt.Sprintf("invalid pattern: %v", err), err)
	}

	res := &GrepResult{}
	werr := walkTree(ctx, p.Root, walkOptions{maxFileSizeKB: g.cfg.MaxFileSizeKB}, func(rel string, d os.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if p.Glob != "" && !matchGlob(p.Glob, rel) {
			return nil
		}

		content, err := os.ReadFile(filepath.Join(p.Root, rel))
		if err != nil || looksBinary(content) {
			return nil
		}

		scanner := bufio.NewScanner(strings.NewReader(string(content)))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if !re.MatchString(text) {
				continue
			}
			if len(res.Hits) >= p.MaxResults {
				res.Truncated = true
				return filepath.SkipAll
			}
			res.Hits = append(res.Hits, GrepHit{Path: rel, Line: line, Text: text})
		}
		return nil
	})
	if werr != nil && !errors.Is(werr, filepath.SkipAll) {
		return nil, werr
	}
	return res, nil
}

// runRipgrep shells out to rg and parses its line output. External calls
// always run under the stage context so cancellation kills the process.
func (g *GrepTool) runRipgrep(ctx context.Context, p GrepParams) (*GrepResult, error) {
	args := []string{"--line-number", "--no-heading", "--color", "never"}
	if p.Glob != "" {
		args = append(args, "--glob", p.Glob)
	}
	if g.cfg.MaxFileSizeKB > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%dK", g.cfg.MaxFileSizeKB))
	}
	args = append(args, "--regexp", p.Pattern, ".")

	cmd := exec.CommandContext(ctx, "rg", args...)
	cmd.Dir = p.Root

	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		// Exit code 1 means no matches; anything else is a real failure.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return &GrepResult{}, nil
		}
		return nil, laberrors.ToolExecution("grep", fmt.Errorf("rg failed: %w", err))
	}

	res := &GrepResult{}
	for _, raw := range strings.Split(string(out), "\n") {
		if raw == "" {
			continue
		}
		hit, ok := parseRipgrepLine(raw)
		if !ok {
			continue
		}
		if len(res.Hits) >= p.MaxResults {
			res.Truncated = true
			break
		}
		res.Hits = append(res.Hits, hit)
	}
	return res, nil
}

// parseRipgrepLine splits "path:line:text" produced by rg --no-heading.
func parseRipgrepLine(raw string) (GrepHit, bool) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return GrepHit{}, false
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil {
		return GrepHit{}, false
	}
	return GrepHit{Path: filepath.ToSlash(parts[0]), Line: line, Text: parts[2]}, true
}
