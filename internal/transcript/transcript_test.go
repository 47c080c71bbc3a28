package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLastAssistantText(t *testing.T) {
	path := writeTranscript(t, `
{"type":"user","message":{"content":[{"type":"text","text":"hi"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"second"},{"type":"text","text":"third"}]}}
`)
	if got := LastAssistantText(path); got != "third" {
		t.Errorf("got %q, want third", got)
	}
}

func TestLastAssistantText_JSONArrayForm(t *testing.T) {
	path := writeTranscript(t, `[
  {"type":"assistant","message":{"content":[{"type":"text","text":"only"}]}}
]`)
	if got := LastAssistantText(path); got != "only" {
		t.Errorf("got %q, want only", got)
	}
}

func TestLastAssistantText_MissingFile(t *testing.T) {
	if got := LastAssistantText(filepath.Join(t.TempDir(), "nope.jsonl")); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestLastAssistantText_CorruptLinesSkipped(t *testing.T) {
	path := writeTranscript(t, `
{broken json
{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}
`)
	if got := LastAssistantText(path); got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
}

func TestCountAssistantMessages(t *testing.T) {
	path := writeTranscript(t, `
{"type":"assistant","message":{"content":[{"type":"text","text":"a"}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"grep","id":"t1"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"b"}]}}
`)
	if got := CountAssistantMessages(path); got != 2 {
		t.Errorf("got %d, want 2 (tool-only message excluded)", got)
	}
}

func TestExtractToolCalls(t *testing.T) {
	path := writeTranscript(t, `
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"grep","id":"t1"}]}}
{"type":"tool_result","tool_use_id":"t1","is_error":false}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"edit","id":"t2"}]}}
{"type":"tool_result","tool_use_id":"t2","is_error":true}
{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t3"}]}}
`)
	calls := ExtractToolCalls(path)
	if len(calls) != 3 {
		t.Fatalf("got %d calls, want 3", len(calls))
	}
	if calls[0].Name != "grep" || calls[0].Success == nil || !*calls[0].Success {
		t.Errorf("call 0: %+v", calls[0])
	}
	if calls[1].Name != "edit" || calls[1].Success == nil || *calls[1].Success {
		t.Errorf("call 1: %+v", calls[1])
	}
	if calls[2].Name != "unknown" || calls[2].Success != nil {
		t.Errorf("call 2: %+v", calls[2])
	}
}
