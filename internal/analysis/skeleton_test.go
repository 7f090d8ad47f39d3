package analysis

import (
	"reflect"
	"testing"
)

func TestParseRangeList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []LineRange
	}{
		{
			"joern keys",
			`[{"startLine": 10, "endLine": 20}, {"startLine": 25, "endLine": 30}]`,
			[]LineRange{{Start: 10, End: 20}, {Start: 25, End: 30}},
		},
		{
			"short keys",
			`[{"start": 2, "end": 5}]`,
			[]LineRange{{Start: 2, End: 5}},
		},
		{
			"noise before list",
			"loading cpg.bin\ndone\n[{\"startLine\": 3, \"endLine\": 8}]",
			[]LineRange{{Start: 3, End: 8}},
		},
		{
			"malformed entries skipped",
			`[{"startLine": 4}, {"startLine": 6, "endLine": 9}, {"other": 1}]`,
			[]LineRange{{Start: 6, End: 9}},
		},
		{"empty list", `[]`, nil},
		{"no list", "nothing here", nil},
		{"empty input", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRangeList(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseRangeList(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}
