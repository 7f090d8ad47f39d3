package loader

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"patchloop/internal/core"
)

// manifestEntry is one record of the input manifest JSON. BugID tolerates
// both string and numeric encodings.
type manifestEntry struct {
	ProjectName string          `json:"project_name"`
	BugID       json.RawMessage `json:"bug_id"`
	FilePath    string          `json:"file_path"`
	MethodName  string          `json:"method_name"`
	BuggyLineNo int             `json:"buggy_line_no"`
	SourceCode  string          `json:"source_code"`
	Language    string          `json:"language"`
}

// Filter narrows a manifest to one project and/or bug id. Empty fields match
// everything.
type Filter struct {
	Project string
	BugID   string
}

// LoadManifest reads the artifact manifest and returns the entries matching
// the filter. Entries missing required fields are skipped with a warning,
// not fatal; a bad record should not sink the batch.
func LoadManifest(path string, filter Filter) ([]*core.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var artifacts []*core.Artifact
	for i, e := range entries {
		bugID := decodeBugID(e.BugID)

		if filter.Project != "" && e.ProjectName != filter.Project {
			continue
		}
		if filter.BugID != "" && bugID != filter.BugID {
			continue
		}

		if e.ProjectName == "" || e.FilePath == "" || e.SourceCode == "" {
			log.Printf("[loader] skipping manifest entry %d: missing required fields", i)
			continue
		}

		language := e.Language
		if language == "" {
			language = "java"
		}
		methodName := e.MethodName
		if methodName == "" {
			methodName = "unknown"
		}

		artifacts = append(artifacts, &core.Artifact{
			ProjectName: e.ProjectName,
			BugID:       bugID,
			FilePath:    e.FilePath,
			MethodName:  methodName,
			BuggyLineNo: e.BuggyLineNo,
			SourceCode:  e.SourceCode,
			Language:    language,
		})
	}
	return artifacts, nil
}

// decodeBugID normalizes a bug id that may arrive as a JSON string or number.
func decodeBugID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Itoa(int(n))
	}
	return string(raw)
}
