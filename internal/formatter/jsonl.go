package formatter

import (
	"encoding/json"
	"io"
)

// WriteJSONL writes each item as one compact JSON object per line.
// File content is left unescaped so diffs stay readable.
func WriteJSONL(w io.Writer, items []any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
