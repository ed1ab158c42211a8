package dispatch

import (
	"encoding/json"
	"testing"
)

func TestFindingsExtractorDedupe(t *testing.T) {
	e := NewFindingsExtractor()

	payload := `{"findings":[
		{"file":"a.go","line_start":1,"line_end":2,"priority":"high","title":"off by one"},
		{"file":"a.go","line_start":1,"line_end":2,"priority":"high","title":"off by one"},
		{"file":"b.go","line_start":9,"line_end":9,"priority":"low","title":"naming"}
	]}`

	first, err := e.Extract("t1", json.RawMessage(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Data) != 2 {
		t.Fatalf("first extraction: %d findings, want 2", len(first.Data))
	}

	// Same payload from another task in the batch: everything is a dupe.
	second, err := e.Extract("t2", json.RawMessage(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Data) != 0 {
		t.Errorf("second extraction: %d findings, want 0", len(second.Data))
	}
}

func TestFindingsExtractorSingleObject(t *testing.T) {
	e := NewFindingsExtractor()
	out, err := e.Extract("t1", json.RawMessage(`{"file":"x.go","line_start":3,"line_end":4,"priority":"med","title":"leak"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 1 {
		t.Fatalf("got %d findings, want 1", len(out.Data))
	}
	f, ok := out.Data[0].(Finding)
	if !ok || f.Title != "leak" {
		t.Errorf("data = %#v", out.Data[0])
	}
}

func TestFindingsExtractorIgnoresEmptyAndNonFindings(t *testing.T) {
	e := NewFindingsExtractor()
	if out, err := e.Extract("t1", nil); err != nil || len(out.Data) != 0 {
		t.Errorf("nil result: %v, %v", out, err)
	}
	if out, err := e.Extract("t1", json.RawMessage(`{"stdout":"ls output"}`)); err != nil || len(out.Data) != 0 {
		t.Errorf("unrelated payload: %v, %v", out, err)
	}
}

func TestExtractorRegistryReplace(t *testing.T) {
	reg := NewExtractorRegistry()
	reg.Register("x", ToolExtractorFunc(func(string, json.RawMessage) (Extraction, error) {
		return Extraction{Data: []any{1}}, nil
	}))
	reg.Register("x", ToolExtractorFunc(func(string, json.RawMessage) (Extraction, error) {
		return Extraction{Data: []any{2}}, nil
	}))

	e, ok := reg.Get("x")
	if !ok {
		t.Fatal("extractor missing")
	}
	out, _ := e.Extract("t", nil)
	if len(out.Data) != 1 || out.Data[0] != 2 {
		t.Errorf("registry did not replace: %v", out.Data)
	}
	if _, ok := reg.Get("y"); ok {
		t.Error("unexpected extractor for unknown tool")
	}
}
