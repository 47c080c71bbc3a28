// Package transcript reads interaction transcripts (JSON-lines or a single
// JSON array) and extracts assistant text and tool calls. Malformed entries
// are skipped, never fatal.
package transcript

// #region imports
import (
	"encoding/json"
	"os"
	"strings"
)

// #endregion

// #region entry-shapes

type entry struct {
	Type      string  `json:"type"`
	Message   message `json:"message"`
	ToolUseID string  `json:"tool_use_id"`
	IsError   bool    `json:"is_error"`
}

type message struct {
	Content []block `json:"content"`
}

type block struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ToolCall is one extracted tool invocation with its observed result.
type ToolCall struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Success *bool  `json:"success,omitempty"`
}

// #endregion

// #region read

func readEntries(path string) []entry {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return nil
	}

	// JSON array form first.
	if strings.HasPrefix(text, "[") {
		var entries []entry
		if json.Unmarshal([]byte(text), &entries) == nil {
			return entries
		}
	}

	// Fall back to JSON-lines; skip corrupt lines.
	var entries []entry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e entry
		if json.Unmarshal([]byte(line), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// #endregion

// #region extractors

// LastAssistantText returns the final assistant text block, or "" when the
// transcript has none.
func LastAssistantText(path string) string {
	last := ""
	for _, e := range readEntries(path) {
		if e.Type != "assistant" {
			continue
		}
		for _, b := range e.Message.Content {
			if b.Type == "text" {
				last = b.Text
			}
		}
	}
	return last
}

// CountAssistantMessages counts assistant entries carrying at least one
// text block.
func CountAssistantMessages(path string) int {
	count := 0
	for _, e := range readEntries(path) {
		if e.Type != "assistant" {
			continue
		}
		for _, b := range e.Message.Content {
			if b.Type == "text" {
				count++
				break
			}
		}
	}
	return count
}

// ExtractToolCalls returns all tool invocations, matched with their results
// where present.
func ExtractToolCalls(path string) []ToolCall {
	var calls []ToolCall
	for _, e := range readEntries(path) {
		switch e.Type {
		case "assistant":
			for _, b := range e.Message.Content {
				if b.Type == "tool_use" {
					name := b.Name
					if name == "" {
						name = "unknown"
					}
					calls = append(calls, ToolCall{Name: name, ID: b.ID})
				}
			}
		case "tool_result":
			for i := len(calls) - 1; i >= 0; i-- {
				if calls[i].ID == e.ToolUseID && calls[i].Success == nil {
					ok := !e.IsError
					calls[i].Success = &ok
					break
				}
			}
		}
	}
	return calls
}

// #endregion
