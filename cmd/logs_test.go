package cmd

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLastLines(t *testing.T) {
	t.Parallel()

	input := "a 1\nb 2\na 3\nb 4\na 5\n"
	tests := []struct {
		name string
		n    int
		grep string
		want []string
	}{
		{"tail", 2, "", []string{"b 4", "a 5"}},
		{"more_than_available", 10, "", []string{"a 1", "b 2", "a 3", "b 4", "a 5"}},
		{"grep", 2, "a ", []string{"a 3", "a 5"}},
		{"zero", 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := lastLines(strings.NewReader(input), tt.n, tt.grep)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
