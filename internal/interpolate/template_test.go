package interpolate_test

import (
	"errors"
	"strings"
	"testing"

	"influxq/internal/interpolate"
	"influxq/internal/models"
)

func record() models.Record {
	return models.NewRecord(map[string]any{
		"name": "interface_rx",
		"tags": map[string]string{"instance": "db01", "type": "if_errors"},
		"values": []any{
			map[string]any{"time": "2024-01-15T10:30:00Z", "value": 12.0},
		},
		"empty": nil,
	})
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"default check name", "%{name}-%{tags.instance}-%{tags.type}", "interface_rx-db01-if_errors"},
		{"round trip", "%{tags.instance}", "db01"},
		{"sequence index", "value=%{values.0.value}", "value=12"},
		{"null renders empty", "[%{empty}]", "[]"},
		{"adjacent", "%{tags.type}%{tags.instance}", "if_errorsdb01"},
		{"percent without brace", "100% of %{tags.instance}", "100% of db01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := interpolate.Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := tpl.Interpolate(record())
			if err != nil {
				t.Fatalf("Interpolate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInterpolateWithoutPlaceholdersIsIdentity(t *testing.T) {
	inputs := []string{"", "plain text", "braces {a.b} and %s", "50% done"}
	for _, src := range inputs {
		tpl := interpolate.MustCompile(src)
		got, err := tpl.Interpolate(record())
		if err != nil {
			t.Fatalf("Interpolate(%q) error = %v", src, err)
		}
		if got != src {
			t.Errorf("Interpolate(%q) = %q", src, got)
		}
		// Also against an empty record
		got, _ = tpl.Interpolate(models.NewRecord(nil))
		if got != src {
			t.Errorf("Interpolate(%q) on empty record = %q", src, got)
		}
	}
}

func TestInterpolateFailureKeepsPlaceholder(t *testing.T) {
	tpl := interpolate.MustCompile("%{name}-%{tags.host}-%{values.3}")

	got, err := tpl.Interpolate(record())
	if err == nil {
		t.Fatal("expected error for unresolved placeholders")
	}
	if !errors.Is(err, interpolate.ErrUnresolved) {
		t.Errorf("error %v does not wrap ErrUnresolved", err)
	}
	if !errors.Is(err, models.ErrPathNotFound) {
		t.Errorf("error %v does not wrap ErrPathNotFound", err)
	}
	if got != "interface_rx-%{tags.host}-%{values.3}" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(err.Error(), "tags.host") || !strings.Contains(err.Error(), "values.3") {
		t.Errorf("error should name both paths: %v", err)
	}
}

func TestInterpolateNonScalarIsMismatch(t *testing.T) {
	tpl := interpolate.MustCompile("%{tags}")
	_, err := tpl.Interpolate(record())
	if !errors.Is(err, models.ErrPathTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		src     string
		wantErr error
	}{
		{"%{name", interpolate.ErrUnterminated},
		{"ok %{}", interpolate.ErrEmptyPath},
		{"%{tags..instance}", interpolate.ErrEmptySegment},
		{"%{.name}", interpolate.ErrEmptySegment},
	}

	for _, tt := range tests {
		_, err := interpolate.Compile(tt.src)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Compile(%q) error = %v, want %v", tt.src, err, tt.wantErr)
		}
	}
}

func TestPaths(t *testing.T) {
	tpl := interpolate.MustCompile("%{name}-%{tags.instance}")
	paths := tpl.Paths()
	if len(paths) != 2 || paths[0] != "name" || paths[1] != "tags.instance" {
		t.Errorf("Paths() = %v", paths)
	}
}
