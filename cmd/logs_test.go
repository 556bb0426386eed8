package cmd

import (
	"slices"
	"strings"
	"testing"
)

const sampleLog = `time=2026-01-02T10:00:00.000Z level=INFO msg="daemon starting" pid=42
time=2026-01-02T10:00:01.000Z level=DEBUG msg="registry loaded" trait=core::fmt::Debug delivery=stashed
time=2026-01-02T10:00:02.000Z level=WARN msg="building registry" trait=alpha::Marker error="implementors: empty group name"
time=2026-01-02T10:00:03.000Z level=DEBUG msg="dropping pending registry" trait=core::fmt::Debug groups=2
panic: runtime error
time=2026-01-02T10:00:04.000Z level=ERROR msg="daemon failed" error="listening on socket: bind"
`

func TestTailLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		n     int
		level string
		trait string
		want  []string // msg or raw prefix of each expected line
	}{
		{"last two", 2, "", "", []string{"panic:", "daemon failed"}},
		{"warn and above", 10, "warn", "", []string{"building registry", "panic:", "daemon failed"}},
		{"by trait", 10, "", "core::fmt::Debug", []string{"registry loaded", "dropping pending registry"}},
		{"trait and level", 10, "info", "core::fmt::Debug", nil},
		{"none", 0, "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := newLogFilter(tt.level, tt.trait)
			if err != nil {
				t.Fatal(err)
			}
			got, err := tailLines(strings.NewReader(sampleLog), tt.n, f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %q, want %d", len(got), got, len(tt.want))
			}
			for i, w := range tt.want {
				if !strings.Contains(got[i], w) {
					t.Errorf("line %d = %q, want it to contain %q", i, got[i], w)
				}
			}
		})
	}
}

func TestLogField(t *testing.T) {
	t.Parallel()
	line := `level=WARN msg="building registry" trait=alpha::Marker error="x y"`
	var got []string
	for _, key := range []string{"level", "msg", "trait", "error", "missing"} {
		v, ok := logField(line, key)
		if ok {
			got = append(got, v)
		}
	}
	if want := []string{"WARN", "building registry", "alpha::Marker", "x y"}; !slices.Equal(got, want) {
		t.Errorf("fields = %q, want %q", got, want)
	}
}

func TestNewLogFilter_BadLevel(t *testing.T) {
	t.Parallel()
	if _, err := newLogFilter("loud", ""); err == nil {
		t.Error("expected error for unknown level")
	}
}
