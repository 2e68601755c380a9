// Package tool defines the uniform tool contract and the capability
// registry that dispatches on it. Nothing here depends on how a tool works
// internally, only on its declared descriptor.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// Descriptor declares a tool's contract: its unique domain name plus input
// and output schemas. Immutable once the registry is built.
type Descriptor struct {
	// Domain is the logical name of the tool family (e.g., "grep", "keyword").
	Domain string `json:"domain"`
	// Description is a human-readable summary used in LLM function specs.
	Description string `json:"description"`
	// InputSchema describes the accepted input payload.
	InputSchema *jsonschema.Schema `json:"input_schema"`
	// OutputSchema describes the result payload.
	OutputSchema *jsonschema.Schema `json:"output_schema"`
}

// Result is the uniform envelope every tool returns.
type Result struct {
	// OK reports tool-level success. A tool that ran but found nothing is
	// still OK.
	OK bool `json:"ok"`
	// Summary is a compact description of the outcome, recorded in the
	// trace instead of the full payload.
	Summary map[string]any `json:"summary,omitempty"`
	// Payload is the full typed result.
	Payload any `json:"payload,omitempty"`
	// Meta carries auxiliary tool metadata (backend name, index size, ...).
	Meta map[string]any `json:"meta,omitempty"`
}

// Tool is the contract consumed from search-tool collaborators.
type Tool interface {
	// Descriptor returns the tool's declared contract.
	Descriptor() Descriptor
	// Run executes the tool with a validated input payload. Blocking
	// operations must honor ctx; external calls must carry a timeout.
	Run(ctx context.Context, input map[string]any) (*Result, error)
}

// NewDescriptor derives a descriptor from the tool's typed parameter and
// result structs.
func NewDescriptor[In, Out any](domain, description string) (Descriptor, error) {
	in, err := jsonschema.For[In](nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("input schema for %s: %w", domain, err)
	}
	out, err := jsonschema.For[Out](nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("output schema for %s: %w", domain, err)
	}
	return Descriptor{
		Domain:       domain,
		Description:  description,
		InputSchema:  in,
		OutputSchema: out,
	}, nil
}

// DecodeInput maps a raw input payload onto a typed parameter struct.
func DecodeInput(input map[string]any, out any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return laberrors.New(laberrors.ErrCodeToolInput, "cannot encode input", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return laberrors.New(laberrors.ErrCodeToolInput,
			fmt.Sprintf("input does not match schema: %v", err), err)
	}
	return nil
}
