package cmd

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeJSON emits one indented JSON document to the command's stdout.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// kvLine prints an aligned key: value line for human output.
func kvLine(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%-12s %v\n", key+":", value)
}
