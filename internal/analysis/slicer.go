package analysis

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"strings"

	"patchloop/internal/core"
)

// LineSetSlicer turns raw dependency-query output into the set of source
// line numbers one dependency kind (data or control) connects to the defect.
type LineSetSlicer struct {
	engine QueryEngine
	script string
	kind   string // "data" or "control", for logs only
}

// NewLineSetSlicer creates a slicer bound to one query script.
func NewLineSetSlicer(engine QueryEngine, script, kind string) *LineSetSlicer {
	return &LineSetSlicer{engine: engine, script: script, kind: kind}
}

// Lines runs the dependency query for the artifact and returns the parsed
// line set. Any failure, query or parse, degrades to an empty set; a
// failed slice shrinks the context, it must never abort the session.
func (s *LineSetSlicer) Lines(ctx context.Context, artifact *core.Artifact) map[int]bool {
	params := map[string]string{
		"filename":   artifact.FilePath,
		"lineNumber": strconv.Itoa(artifact.BuggyLineNo),
	}
	if artifact.MethodName != "" {
		params["methodName"] = artifact.MethodName
	} else {
		log.Printf("[slicer] no method name for %s, slicing by line only", artifact.Identifier())
	}

	raw, err := s.engine.RunScript(ctx, s.script, params)
	if err != nil {
		log.Printf("[slicer] %s dependency query failed: %v", s.kind, err)
		return map[int]bool{}
	}

	lines := ParseLineList(raw)
	log.Printf("[slicer] %s dependency slice: %d lines", s.kind, len(lines))
	return lines
}

// ParseLineList scans query output from the end for the first line that is a
// bracketed JSON list and returns its integer entries as a set. Non-integer
// and null entries are discarded. Anything unparseable yields an empty set.
func ParseLineList(raw string) map[int]bool {
	set := map[int]bool{}
	if raw == "" {
		return set
	}

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		var entries []any
		if err := json.Unmarshal([]byte(line), &entries); err != nil {
			continue
		}
		for _, e := range entries {
			if n, ok := e.(float64); ok {
				set[int(n)] = true
			}
		}
		return set
	}
	return set
}

// RenderLines reconstructs a code block from the member lines of the set, in
// source order. Line numbers outside the file are dropped with a debug note.
// An empty set renders to an empty string.
func RenderLines(source string, lines map[int]bool) string {
	if len(lines) == 0 {
		return ""
	}

	srcLines := strings.Split(source, "\n")
	nums := make([]int, 0, len(lines))
	for n := range lines {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var out []string
	for _, n := range nums {
		if n < 1 || n > len(srcLines) {
			log.Printf("[slicer] line %d out of bounds for source of %d lines", n, len(srcLines))
			continue
		}
		out = append(out, srcLines[n-1])
	}
	return strings.Join(out, "\n")
}
