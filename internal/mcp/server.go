// Package mcp exposes the search tools and pipeline executor to MCP
// clients over stdio. Each available registry domain registers as one MCP
// tool; unavailable domains are reported through domain_status instead of
// being hidden.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/searchlab/searchlab/internal/lab"
	"github.com/searchlab/searchlab/internal/pipeline"
	"github.com/searchlab/searchlab/internal/tools"
)

const serverName = "searchlab"

// Server bridges MCP clients with the lab.
type Server struct {
	mcp    *mcp.Server
	lab    *lab.Lab
	logger *slog.Logger
}

// ToolOutput is the uniform MCP payload for single-tool invocations.
type ToolOutput struct {
	OK      bool           `json:"ok" jsonschema:"whether the tool ran successfully"`
	Summary map[string]any `json:"summary,omitempty" jsonschema:"compact outcome summary"`
	Payload any            `json:"payload,omitempty" jsonschema:"full typed result"`
}

// PipelineInput defines the run_pipeline tool schema.
type PipelineInput struct {
	Stages []pipeline.Stage `json:"stages" jsonschema:"ordered tool stages to execute"`
	Input  map[string]any   `json:"input,omitempty" jsonschema:"root input merged into every stage"`
}

// PipelineOutput is the run_pipeline result.
type PipelineOutput struct {
	RunID     string                  `json:"run_id"`
	Status    string                  `json:"status"`
	Outputs   []pipeline.StageOutput  `json:"outputs"`
	Failures  []pipeline.StageFailure `json:"failures,omitempty"`
	Attempted int                     `json:"attempted"`
}

// DomainStatusInput takes no parameters.
type DomainStatusInput struct{}

// DomainStatusOutput reports which domains resolve and why others do not.
type DomainStatusOutput struct {
	Available   []string          `json:"available"`
	Unavailable map[string]string `json:"unavailable,omitempty"`
}

// NewServer creates the MCP server over an assembled lab.
func NewServer(l *lab.Lab, version string, logger *slog.Logger) (*Server, error) {
	if l == nil {
		return nil, errors.New("lab is required")
	}

	s := &Server{
		lab:    l,
		logger: logger,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)

	s.registerTools()
	return s, nil
}

// registerTools registers one MCP tool per available search domain, plus
// the pipeline and status tools.
func (s *Server) registerTools() {
	available := map[string]bool{}
	for _, d := range s.lab.Registry.Available() {
		available[d] = true
	}

	if available["grep"] {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "grep",
			Description: "Search file contents by regular expression, returning matching lines with positions.",
		}, domainHandler[tools.GrepParams](s, "grep"))
	}
	if available["find"] {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "find",
			Description: "Discover files and directories by name glob under a root directory.",
		}, domainHandler[tools.FindParams](s, "find"))
	}
	if available["keyword"] {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "keyword",
			Description: "Rank files against a keyword query using BM25 relevance.",
		}, domainHandler[tools.KeywordParams](s, "keyword"))
	}
	if available["semantic"] {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "semantic",
			Description: "Search files by embedding similarity against a natural language query.",
		}, domainHandler[tools.SemanticParams](s, "semantic"))
	}
	if available["ast"] {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "ast",
			Description: "Locate symbol definitions and call sites by parsing source into syntax trees.",
		}, domainHandler[tools.ASTParams](s, "ast"))
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_pipeline",
		Description: "Execute an ordered sequence of search tool stages as one traced, persisted run. Stage failures are contained; surviving stages still contribute.",
	}, s.pipelineHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "domain_status",
		Description: "List available search domains and the reasons unavailable ones cannot serve.",
	}, s.domainStatusHandler)

	s.logger.Info("mcp tools registered",
		slog.Int("domains", len(available)))
}

// domainHandler adapts one registry domain to a typed MCP tool handler.
func domainHandler[In any](s *Server, domain string) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, ToolOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input In) (*mcp.CallToolResult, ToolOutput, error) {
		raw, err := toMap(input)
		if err != nil {
			return nil, ToolOutput{}, err
		}

		res, err := s.lab.RunTool(ctx, domain, raw)
		if err != nil {
			s.logger.Warn("mcp tool failed",
				slog.String("domain", domain),
				slog.String("error", err.Error()))
			return nil, ToolOutput{}, err
		}
		return nil, ToolOutput{OK: res.OK, Summary: res.Summary, Payload: res.Payload}, nil
	}
}

func (s *Server) pipelineHandler(ctx context.Context, _ *mcp.CallToolRequest, input PipelineInput) (*mcp.CallToolResult, PipelineOutput, error) {
	if len(input.Stages) == 0 {
		return nil, PipelineOutput{}, fmt.Errorf("stages must not be empty")
	}

	res, err := s.lab.RunPipeline(ctx, "", input.Stages, input.Input)
	if err != nil {
		return nil, PipelineOutput{}, err
	}
	return nil, PipelineOutput{
		RunID:     res.RunID,
		Status:    string(res.Status),
		Outputs:   res.Outputs,
		Failures:  res.Failures,
		Attempted: res.Attempted,
	}, nil
}

func (s *Server) domainStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ DomainStatusInput) (*mcp.CallToolResult, DomainStatusOutput, error) {
	return nil, DomainStatusOutput{
		Available:   s.lab.Registry.Available(),
		Unavailable: s.lab.Registry.Unavailable(),
	}, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp server stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped gracefully")
	return nil
}

// toMap converts a typed input struct into the uniform tool payload.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
