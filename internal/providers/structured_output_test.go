package providers

import (
	"encoding/json"
	"testing"

	"github.com/jackzampolin/straighten/internal/rectify"
)

const validCorners = `{"top_left":{"x":0.1,"y":0.1},"top_right":{"x":0.9,"y":0.12},"bottom_left":{"x":0.08,"y":0.9},"bottom_right":{"x":0.88,"y":0.93}}`

func TestParseStructuredJSON_StripsCodeFence(t *testing.T) {
	content := "```json\n{\"ok\":true}\n```"
	got, err := parseStructuredJSON(content)
	if err != nil {
		t.Fatalf("parseStructuredJSON() error = %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(got, &parsed); err != nil {
		t.Fatalf("failed to unmarshal parsed JSON: %v", err)
	}
	if ok, _ := parsed["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %#v", parsed)
	}
}

func TestParseStructuredJSON_SurroundingText(t *testing.T) {
	got, err := parseStructuredJSON("Here are the corners: " + validCorners + " Hope this helps.")
	if err != nil {
		t.Fatalf("parseStructuredJSON() error = %v", err)
	}
	if err := validateStructuredJSON(got); err != nil {
		t.Fatalf("validateStructuredJSON() error = %v", err)
	}
}

func TestParseStructuredJSON_Empty(t *testing.T) {
	if _, err := parseStructuredJSON("   "); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := parseStructuredJSON("I could not find a document."); err == nil {
		t.Fatal("expected error for prose")
	}
}

func TestParseCorners(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ok      bool
	}{
		{"valid", validCorners, true},
		{"fenced", "```\n" + validCorners + "\n```", true},
		{"missing corner", `{"top_left":{"x":0.1,"y":0.1},"top_right":{"x":0.9,"y":0.1},"bottom_left":{"x":0.1,"y":0.9}}`, false},
		{"wrong type", `{"top_left":{"x":"a","y":0.1},"top_right":{"x":0.9,"y":0.1},"bottom_left":{"x":0.1,"y":0.9},"bottom_right":{"x":0.9,"y":0.9}}`, false},
		{"slightly out of frame", `{"top_left":{"x":-0.01,"y":0.05},"top_right":{"x":0.9,"y":-0.02},"bottom_left":{"x":0.1,"y":0.9},"bottom_right":{"x":0.88,"y":0.93}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, raw, err := parseCorners(tt.content)
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected error, got quad %v", q)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCorners() error = %v", err)
			}
			if q.BottomRight != (rectify.Point{X: 0.88, Y: 0.93}) {
				t.Errorf("unexpected bottom right %v", q.BottomRight)
			}
			if len(raw) == 0 {
				t.Error("expected raw JSON")
			}
		})
	}
}
