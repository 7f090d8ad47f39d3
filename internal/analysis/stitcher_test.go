package analysis

import (
	"strings"
	"testing"
)

const stitchSource = `public class Account {
    private int balance;

    public void deposit(int amount) {
        if (amount < 0) {
            throw new IllegalArgumentException();
        }
        balance += amount;
    }

    public int balance() {
        return balance;
    }
}`

func TestStitchNoRanges(t *testing.T) {
	got := Stitch(stitchSource, map[int]bool{2: true}, nil)
	if got != stitchSource {
		t.Errorf("expected source unchanged without ranges, got:\n%s", got)
	}
}

func TestStitchKeepAll(t *testing.T) {
	keep := map[int]bool{}
	for i := 1; i <= strings.Count(stitchSource, "\n")+1; i++ {
		keep[i] = true
	}
	ranges := []LineRange{{Start: 4, End: 9}, {Start: 11, End: 13}}
	if got := Stitch(stitchSource, keep, ranges); got != stitchSource {
		t.Errorf("keep-all must render verbatim, got:\n%s", got)
	}
}

func TestStitchCollapsesRuns(t *testing.T) {
	// deposit body (5..8) collapses except the kept if-line; balance body (12)
	// collapses fully. Boundaries stay visible.
	ranges := []LineRange{{Start: 4, End: 9}, {Start: 11, End: 13}}
	keep := map[int]bool{5: true, 7: true}

	got := Stitch(stitchSource, keep, ranges)
	lines := strings.Split(got, "\n")

	placeholders := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == Placeholder {
			placeholders++
		}
	}
	if placeholders != 3 {
		t.Fatalf("expected 3 placeholders (2 runs in deposit, 1 in balance), got %d:\n%s", placeholders, got)
	}
	if !strings.Contains(got, "if (amount < 0) {") {
		t.Error("kept line missing from stitched output")
	}
	if strings.Contains(got, "balance += amount;") {
		t.Error("suppressible line survived without being kept")
	}
	if !strings.Contains(got, "public void deposit(int amount) {") ||
		!strings.Contains(got, "public int balance() {") {
		t.Error("range boundary lines must stay visible")
	}
}

func TestStitchSinglePlaceholderPerRun(t *testing.T) {
	src := "a\nb\nc\nd\ne"
	got := Stitch(src, nil, []LineRange{{Start: 1, End: 5}})
	want := "a\n" + Placeholder + "\ne"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStitchPlaceholderIndent(t *testing.T) {
	src := "func f() {\n\tx := 1\n\ty := 2\n\treturn\n}"
	got := Stitch(src, map[int]bool{4: true}, []LineRange{{Start: 1, End: 5}})
	if !strings.Contains(got, "\t"+Placeholder) {
		t.Errorf("placeholder should take the next visible line's indent:\n%s", got)
	}
}

func TestStitchIgnoresDegenerateAndClampsRanges(t *testing.T) {
	src := "a\nb\nc"
	if got := Stitch(src, nil, []LineRange{{Start: 3, End: 3}, {Start: 5, End: 2}}); got != src {
		t.Errorf("degenerate ranges must not hide anything, got %q", got)
	}
	got := Stitch(src, nil, []LineRange{{Start: 1, End: 99}})
	want := "a\n" + Placeholder
	if got != want {
		t.Errorf("out-of-bounds end should clamp, got %q want %q", got, want)
	}
}

func TestStitchOutputIsSourceSubsequence(t *testing.T) {
	ranges := []LineRange{{Start: 4, End: 9}, {Start: 11, End: 13}}
	got := Skeleton(stitchSource, ranges)

	srcLines := strings.Split(stitchSource, "\n")
	next := 0
	for _, l := range strings.Split(got, "\n") {
		if strings.TrimSpace(l) == Placeholder {
			continue
		}
		found := false
		for ; next < len(srcLines); next++ {
			if srcLines[next] == l {
				found = true
				next++
				break
			}
		}
		if !found {
			t.Fatalf("line %q not a source line in order", l)
		}
	}
}
