package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunParsePrintsRecords(t *testing.T) {
	capture := "<progressBar id='health' value='80' text='health 80/100'/>You feel fine.\r\n<prompt time='1'>&gt;</prompt>"
	for _, size := range []string{"1", "7", "4096"} {
		t.Run("chunk-"+size, func(t *testing.T) {
			var out bytes.Buffer
			if err := runParse([]string{"--chunk-size", size, "--state"}, strings.NewReader(capture), &out); err != nil {
				t.Fatalf("parse: %v", err)
			}

			var (
				clean strings.Builder
				last  map[string]any
			)
			scanner := bufio.NewScanner(&out)
			for scanner.Scan() {
				var rec map[string]any
				if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
					t.Fatalf("decode %q: %v", scanner.Text(), err)
				}
				if text, ok := rec["clean_text"].(string); ok {
					clean.WriteString(text)
				}
				last = rec
			}
			if !strings.Contains(clean.String(), "You feel fine.") {
				t.Fatalf("clean text = %q", clean.String())
			}
			vitals, ok := last["vitals"].(map[string]any)
			if !ok || vitals["health"] == nil {
				t.Fatalf("expected final game state with health, got %v", last)
			}
		})
	}
}

func TestRunParseReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.xml")
	if err := os.WriteFile(path, []byte("<a exist='1' noun='door'>door</a>"), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	var out bytes.Buffer
	if err := runParse([]string{path}, strings.NewReader(""), &out); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(out.String(), `"noun":"door"`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestRunParseRejectsBadChunkSize(t *testing.T) {
	if err := runParse([]string{"--chunk-size", "0"}, strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
