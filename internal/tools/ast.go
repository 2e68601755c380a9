package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/searchlab/searchlab/internal/config"
	laberrors "github.com/searchlab/searchlab/internal/errors"
	"github.com/searchlab/searchlab/internal/tool"
)

// ASTParams are the structural search inputs.
type ASTParams struct {
	Symbol string `json:"symbol" jsonschema:"identifier to locate in the syntax tree"`
	Root   string `json:"root" jsonschema:"directory to search under"`
	// Kind filters findings: "def" (declarations), "call" (call sites), or
	// "any" (default).
	Kind string `json:"kind,omitempty" jsonschema:"finding kind filter: def, call, or any"`
}

// ASTFinding is one located syntax node.
type ASTFinding struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	// Kind is "def" or "call".
	Kind    string `json:"kind"`
	Snippet string `json:"snippet"`
}

// ASTResult is the structural search payload.
type ASTResult struct {
	Findings []ASTFinding `json:"findings"`
}

// languageExts maps supported language names to their file extensions.
var languageExts = map[string]string{
	"go": ".go",
}

// ASTTool locates symbol definitions and call sites by parsing source
// files into syntax trees instead of matching text.
type ASTTool struct {
	desc tool.Descriptor
	cfg  config.ASTConfig
}

var _ tool.Tool = (*ASTTool)(nil)

// NewAST creates the structural search tool.
func NewAST(cfg config.ASTConfig) (*ASTTool, error) {
	desc, err := tool.NewDescriptor[ASTParams, ASTResult]("ast",
		"Locate symbol definitions and call sites by parsing source into syntax trees.")
	if err != nil {
		return nil, err
	}
	return &ASTTool{desc: desc, cfg: cfg}, nil
}

// CheckAvailability verifies at least one configured language has a
// grammar.
func (a *ASTTool) CheckAvailability() error {
	for _, lang := range a.cfg.Languages {
		if _, ok := languageExts[lang]; ok {
			return nil
		}
	}
	return fmt.Errorf("no supported language configured (supported: go)")
}

// Descriptor implements tool.Tool.
func (a *ASTTool) Descriptor() tool.Descriptor { return a.desc }

// Run implements tool.Tool.
func (a *ASTTool) Run(ctx context.Context, input map[string]any) (*tool.Result, error) {
	var p ASTParams
	if err := tool.DecodeInput(input, &p); err != nil {
		return nil, err
	}
	if p.Symbol == "" {
		return nil, laberrors.New(laberrors.ErrCodeToolInput, "symbol must not be empty", nil)
	}
	if p.Root == "" {
		p.Root = "."
	}
	switch p.Kind {
	case "", "any", "def", "call":
	default:
		return nil, laberrors.New(laberrors.ErrCodeToolInput,
			"kind must be def, call, or any", nil)
	}

	timeout := a.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	res := &ASTResult{}
	err := walkTree(ctx, p.Root, walkOptions{maxFileSizeKB: 1024}, func(rel string, d fs.DirEntry) error {
		if filepath.Ext(rel) != ".go" {
			return nil
		}
		source, err := os.ReadFile(filepath.Join(p.Root, rel))
		if err != nil {
			return nil
		}

		tree, err := parser.ParseCtx(ctx, nil, source)
		if err != nil || tree == nil {
			// Unparseable files are skipped, matching grep's tolerance for
			// unreadable ones.
			return nil
		}
		defer tree.Close()

		collectFindings(tree.RootNode(), source, rel, p, res)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, laberrors.ToolTimeout("ast", context.DeadlineExceeded)
		}
		return nil, err
	}

	summary := map[string]any{
		"findings": len(res.Findings),
		"symbol":   p.Symbol,
	}
	if len(res.Findings) > 0 {
		summary["first_path"] = res.Findings[0].Path
	}

	return &tool.Result{
		OK:      true,
		Summary: summary,
		Payload: res,
	}, nil
}

// collectFindings walks a syntax tree collecting definitions and call
// sites for the requested symbol.
func collectFindings(node *sitter.Node, source []byte, rel string, p ASTParams, res *ASTResult) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration", "method_declaration", "type_declaration", "const_declaration", "var_declaration":
		if p.Kind != "call" {
			if name, ok := declaredName(node, source); ok && name == p.Symbol {
				res.Findings = append(res.Findings, ASTFinding{
					Path:    rel,
					Line:    int(node.StartPoint().Row) + 1,
					Kind:    "def",
					Snippet: firstLine(nodeContent(node, source)),
				})
			}
		}
	case "call_expression":
		if p.Kind != "def" {
			if name := calledName(node, source); name == p.Symbol {
				res.Findings = append(res.Findings, ASTFinding{
					Path:    rel,
					Line:    int(node.StartPoint().Row) + 1,
					Kind:    "call",
					Snippet: firstLine(nodeContent(node, source)),
				})
			}
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectFindings(node.Child(i), source, rel, p, res)
	}
}

// declaredName extracts the declared identifier from a declaration node.
func declaredName(node *sitter.Node, source []byte) (string, bool) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "identifier", "field_identifier", "type_identifier":
			return nodeContent(child, source), true
		case "type_spec", "const_spec", "var_spec":
			// Grouped declarations nest the name one level down.
			if name, ok := declaredName(child, source); ok {
				return name, true
			}
		}
	}
	return "", false
}

// calledName extracts the called function name, unwrapping selector
// expressions so both f(x) and pkg.f(x) match symbol f.
func calledName(node *sitter.Node, source []byte) string {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return nodeContent(fn, source)
	case "selector_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			return nodeContent(field, source)
		}
	}
	return ""
}

func nodeContent(node *sitter.Node, source []byte) string {
	start, end := node.StartByte(), node.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
