package tool

import (
	"github.com/google/jsonschema-go/jsonschema"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// FunctionSpec is one LLM function-calling tool specification, in the
// shape OpenAI-compatible APIs consume.
type FunctionSpec struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef names a callable function and its parameter schema.
type FunctionDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// SchemaFor returns the input schema for a registered domain.
func (r *Registry) SchemaFor(domain string) (*jsonschema.Schema, error) {
	t, err := r.Resolve(domain)
	if err != nil {
		return nil, err
	}
	return t.Descriptor().InputSchema, nil
}

// FunctionSpecs assembles one function spec per available domain, sorted
// by domain name, for external consumption by the LLM calling path.
func (r *Registry) FunctionSpecs() ([]FunctionSpec, error) {
	descs := r.Descriptors()
	out := make([]FunctionSpec, 0, len(descs))
	for _, d := range descs {
		if d.InputSchema == nil {
			return nil, laberrors.ConfigError("domain "+d.Domain+" has no input schema", nil)
		}
		out = append(out, FunctionSpec{
			Type: "function",
			Function: FunctionDef{
				Name:        d.Domain,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out, nil
}
