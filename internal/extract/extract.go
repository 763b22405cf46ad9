// Package extract pulls lead records out of raw model output. Model
// responses are rarely clean: they may wrap the JSON in markdown fences or
// surround the array with prose. Extraction tries the cheap paths first and
// only reports failure when no array can be recovered at all.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Fos938/lead-generator/internal/lead"
)

// ErrNoArray reports that the model output contained no JSON array.
var ErrNoArray = errors.New("no JSON array found in model output")

// arrayPattern matches greedily from the first '[' to the last ']', across
// newlines, so prose around the array is discarded.
var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// StripFences removes a leading ```json or ``` fence and a trailing ```
// fence, if present, and trims surrounding whitespace.
func StripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
	} else if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
	}
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// Leads recovers a lead array from model output.
//
// The content is first stripped of markdown fences and parsed as-is. If that
// fails, the outermost bracketed span is located and parsed instead. An
// output with no bracketed span returns ErrNoArray; a span that is not valid
// lead JSON returns a wrapped parse error. An empty array is a valid result.
func Leads(content string) ([]lead.Lead, error) {
	cleaned := StripFences(content)

	var leads []lead.Lead
	if err := json.Unmarshal([]byte(cleaned), &leads); err == nil {
		return leads, nil
	}

	span := arrayPattern.FindString(cleaned)
	if span == "" {
		return nil, ErrNoArray
	}

	if err := json.Unmarshal([]byte(span), &leads); err != nil {
		return nil, fmt.Errorf("model output contained an array that is not valid lead JSON: %w", err)
	}
	return leads, nil
}
