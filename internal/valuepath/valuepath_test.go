package valuepath_test

import (
	"encoding/json"
	"errors"
	"testing"

	"influxq/internal/models"
	"influxq/internal/valuepath"
)

func record() models.Record {
	return models.NewRecord(map[string]any{
		"name": "load",
		"tags": map[string]string{"host": "db01"},
		"values": []any{
			map[string]any{"time": "2024-01-15T10:30:00Z", "value": json.Number("12")},
			map[string]any{"time": "2024-01-15T10:31:00Z", "value": json.Number("3")},
			map[string]any{"time": "2024-01-15T10:32:00Z", "value": nil},
		},
	})
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		present bool
	}{
		{"rooted", "$.values[0].value", "12", true},
		{"implicit root", "values[1].value", "3", true},
		{"wildcard picks first", "$.values[*].value", "12", true},
		{"tag", "tags.host", "db01", true},
		{"missing field", "$.tags.instance", "", false},
		{"out of range", "$.values[9].value", "", false},
		{"mapping selection", "$.tags", "", false},
		{"empty selection", "$.values[*].nope", "", false},
		{"null value", "$.values[2].value", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := valuepath.Compile(tt.path)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.path, err)
			}
			got, ok := p.Extract(record())
			if ok != tt.present {
				t.Fatalf("present = %v, want %v", ok, tt.present)
			}
			if ok && got.String() != tt.want {
				t.Errorf("got %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestExtractFlatRecord(t *testing.T) {
	p, err := valuepath.Compile("$.value")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, ok := p.Extract(models.NewRecord(map[string]any{"host": "a", "value": 12}))
	if !ok {
		t.Fatal("expected value")
	}
	if f, _ := got.Float(); f != 12 {
		t.Errorf("got %v, want 12", f)
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := valuepath.Compile("  "); !errors.Is(err, valuepath.ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
	if _, err := valuepath.Compile("$.values[0"); err == nil {
		t.Error("expected error for unterminated bracket")
	}
}
