package corpus

import (
	"bytes"
	"encoding/json"
	"io"
)

// Marshal encodes v as compact JSON without HTML escaping, so SQL operators
// such as "<" and "&" stay readable.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteJSON writes v as indented JSON (four spaces, UTF-8, non-ASCII and HTML
// characters unescaped) followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
