package loader

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `[
  {
    "project_name": "Chart",
    "bug_id": 1,
    "file_path": "source/org/jfree/chart/plot/CategoryPlot.java",
    "method_name": "getDataset",
    "buggy_line_no": 1797,
    "source_code": "public Dataset getDataset() { return null; }",
    "language": "java"
  },
  {
    "project_name": "Math",
    "bug_id": "5",
    "file_path": "src/main/java/org/apache/commons/math3/complex/Complex.java",
    "buggy_line_no": 304,
    "source_code": "public Complex reciprocal() { return NaN; }"
  },
  {
    "project_name": "Broken",
    "bug_id": "9",
    "buggy_line_no": 1,
    "source_code": ""
  }
]`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, sampleManifest)

	artifacts, err := LoadManifest(path, Filter{})
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts (bad entry skipped), got %d", len(artifacts))
	}

	chart := artifacts[0]
	if chart.BugID != "1" {
		t.Errorf("numeric bug_id should normalize to string, got %q", chart.BugID)
	}
	if chart.Identifier() != "Chart-1" {
		t.Errorf("Identifier = %q", chart.Identifier())
	}

	math := artifacts[1]
	if math.Language != "java" {
		t.Errorf("missing language should default to java, got %q", math.Language)
	}
	if math.MethodName != "unknown" {
		t.Errorf("missing method name should default, got %q", math.MethodName)
	}
}

func TestLoadManifestFilters(t *testing.T) {
	path := writeManifest(t, sampleManifest)

	artifacts, err := LoadManifest(path, Filter{Project: "Math"})
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 || artifacts[0].ProjectName != "Math" {
		t.Errorf("project filter failed: %+v", artifacts)
	}

	artifacts, err = LoadManifest(path, Filter{Project: "Chart", BugID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 || artifacts[0].BugID != "1" {
		t.Errorf("bug filter failed: %+v", artifacts)
	}

	artifacts, err = LoadManifest(path, Filter{Project: "Chart", BugID: "999"})
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 0 {
		t.Errorf("non-matching filter should return nothing, got %d", len(artifacts))
	}
}

func TestLoadManifestErrors(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "absent.json"), Filter{}); err == nil {
		t.Error("missing manifest should error")
	}

	path := writeManifest(t, "{not json")
	if _, err := LoadManifest(path, Filter{}); err == nil {
		t.Error("malformed manifest should error")
	}
}
