package analysis

import (
	"reflect"
	"testing"
)

func TestParseLineList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[int]bool
	}{
		{"plain", `[3, 7]`, map[int]bool{3: true, 7: true}},
		{"banner noise", "Compiling (synthetic)\nscript finished\n[1, 2, 5]\n", map[int]bool{1: true, 2: true, 5: true}},
		{"takes last list", "[9, 9]\nList(foo)\n[4]", map[int]bool{4: true}},
		{"nulls and strings dropped", `[null, "x", 12, 3.0]`, map[int]bool{12: true, 3: true}},
		{"empty list", `[]`, map[int]bool{}},
		{"no list at all", "error: could not find method", map[int]bool{}},
		{"empty input", "", map[int]bool{}},
		{"malformed json", "[3, 7", map[int]bool{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseLineList(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseLineList(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestRenderLines(t *testing.T) {
	source := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10"

	got := RenderLines(source, map[int]bool{7: true, 3: true})
	if got != "l3\nl7" {
		t.Errorf("got %q, want lines 3 and 7 in source order", got)
	}
}

func TestRenderLinesDropsOutOfBounds(t *testing.T) {
	source := "a\nb\nc"
	got := RenderLines(source, map[int]bool{2: true, 0: true, 99: true})
	if got != "b" {
		t.Errorf("got %q, want %q", got, "b")
	}
}

func TestRenderLinesEmptySet(t *testing.T) {
	if got := RenderLines("a\nb", map[int]bool{}); got != "" {
		t.Errorf("empty set must render empty, got %q", got)
	}
}
