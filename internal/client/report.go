package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats for WriteResponse.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriteResponse prints the server response in the requested format. JSON is
// re-indented from the raw bytes so unknown fields survive.
func WriteResponse(w io.Writer, p *Prediction, format string) error {
	if format == FormatYAML || format == "yml" {
		var doc any = p
		var raw map[string]any
		if err := json.Unmarshal(p.Raw, &raw); err == nil {
			doc = raw
		}
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, p.Raw, "", "  "); err != nil {
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(p)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// WriteSummary prints the human-readable verdict block.
func WriteSummary(w io.Writer, p *Prediction) error {
	rule := strings.Repeat("=", 50)

	verdict := "Result: NOT AUTHENTIC"
	if p.Authentic() {
		verdict = "Result: AUTHENTIC"
	}

	_, err := fmt.Fprintf(w, "%s\nPREDICTION RESULTS\n%s\nAuthenticity Score: %v\nThreshold: %v\nStatus: %s\n%s\n%s\n",
		rule, rule, p.AuthenticityScore, p.Threshold, p.Status, verdict, rule)
	return err
}
