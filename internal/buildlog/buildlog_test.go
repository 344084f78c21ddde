package buildlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log.jsonl")
	lg, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	events := []Event{
		{Timestamp: "2026-01-01T00:00:00Z", BuildID: "b1", RulesPath: "rules/", Success: true, RuleCount: 3, DurationMS: 12},
		{Timestamp: "2026-01-01T00:01:00Z", BuildID: "b2", RulesPath: "rules/", Success: false, ErrorCount: 2, DurationMS: 7},
	}
	for _, e := range events {
		if err := lg.Log(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := lg.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].BuildID != "b1" || got[1].BuildID != "b2" {
		t.Errorf("unexpected events %+v", got)
	}
	if got[1].Success || got[1].ErrorCount != 2 {
		t.Errorf("failure event mangled: %+v", got[1])
	}
}

func TestReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.log.jsonl")
	for i := 0; i < 2; i++ {
		lg, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := lg.Log(Event{BuildID: "again"}); err != nil {
			t.Fatal(err)
		}
		lg.Close()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 appended lines, got %d", lines)
	}
}
