package tools

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
)

const defaultFindMaxResults = 1000

// FindParams are the filesystem discovery inputs.
type FindParams struct {
	Root string `json:"root" jsonschema:"directory to search under"`
	Glob string `json:"glob,omitempty" jsonschema:"filename glob to match, e.g. *.py"`
	// Kind filters results: "file" (default), "dir", or "any".
	Kind       string `json:"kind,omitempty" jsonschema:"entry kind filter: file, dir, or any"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of paths to return"`
}

// FindResult is the discovery payload.
type FindResult struct {
	Paths     []string `json:"paths"`
	Truncated bool     `json:"truncated,omitempty"`
}

// FindTool discovers files and directories by name pattern.
type FindTool struct {
	desc tool.Descriptor
	cfg  config.FindConfig
}

var _ tool.Tool = (*FindTool)(nil)

// NewFind creates the find tool.
func NewFind(cfg config.FindConfig) (*FindTool, error) {
	desc, err := tool.NewDescriptor[FindParams, FindResult]("find",
		"Discover files and directories by name glob under a root directory.")
	if err != nil {
		return nil, err
	}
	return &FindTool{desc: desc, cfg: cfg}, nil
}

// Descriptor implements tool.Tool.
func (f *FindTool) Descriptor() tool.Descriptor { return f.desc }

// Run implements tool.Tool.
func (f *FindTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	var p FindParams
	if err := tool.DecodeInput(input, &p); err != nil {
		return nil, err
	}
	if p.Root == "" {
		p.Root = "."
	}
	switch p.Kind {
	case "", "file", "dir", "any":
	default:
		return nil, laberrors.New(laberrors.ErrCodeToolInput,
			"kind must be file, dir, or any", nil)
	}
	if p.MaxResults <= 0 {
		p.MaxResults = defaultFindMaxResults
	}

	timeout := f.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := &FindResult{}
	err := walkTree(ctx, p.Root, walkOptions{includeDirs: true}, func(rel string, d fs.DirEntry) error {
		switch p.Kind {
		case "dir":
			if !d.IsDir() {
				return nil
			}
		case "any":
		default:
			if d.IsDir() {
				return nil
			}
		}
		if p.Glob != "" && !matchGlob(p.Glob, rel) {
			return nil
		}
		if len(res.Paths) >= p.MaxResults {
			res.Truncated = true
			return filepath.SkipAll
		}
		res.Paths = append(res.Paths, rel)
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, laberrors.ToolTimeout("find", context.DeadlineExceeded)
		}
		return nil, err
	}

	summary := map[string]any{
		"paths":     len(res.Paths),
		"truncated": res.Truncated,
	}
	// Seedable by the next stage, e.g. SeedFrom{"glob": "first_path"}.
	if len(res.Paths) > 0 {
		summary["first_path"] = res.Paths[0]
	}

	return &tool.Result{
		OK:      true,
		Summary: summary,
		Payload: res,
	}, nil
}
