package analysis

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"patchloop/internal/core"
)

// LineRange is one collapsible region, 1-based. Lines strictly between Start
// and End may be hidden; the boundary lines themselves always stay visible.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SkeletonRangeExtractor turns raw structural-query output into the list of
// collapsible line ranges for one source file.
type SkeletonRangeExtractor struct {
	engine QueryEngine
	script string
}

// NewSkeletonRangeExtractor creates an extractor bound to the structure script.
func NewSkeletonRangeExtractor(engine QueryEngine, script string) *SkeletonRangeExtractor {
	return &SkeletonRangeExtractor{engine: engine, script: script}
}

// Ranges runs the structural query and returns the parsed ranges. Failure
// degrades to an empty list, i.e. no collapsing.
func (e *SkeletonRangeExtractor) Ranges(ctx context.Context, artifact *core.Artifact) []LineRange {
	raw, err := e.engine.RunScript(ctx, e.script, map[string]string{
		"filename": artifact.FilePath,
	})
	if err != nil {
		log.Printf("[skeleton] structural query failed: %v", err)
		return nil
	}

	ranges := ParseRangeList(raw)
	log.Printf("[skeleton] %d collapsible blocks", len(ranges))
	return ranges
}

// ParseRangeList scans query output from the end for the first bracketed JSON
// list and reads its objects as ranges. Both {start,end} and
// {startLine,endLine} key pairs are accepted; malformed entries are skipped.
func ParseRangeList(raw string) []LineRange {
	if raw == "" {
		return nil
	}

	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		var entries []map[string]any
		if err := json.Unmarshal([]byte(line), &entries); err != nil {
			continue
		}
		var ranges []LineRange
		for _, item := range entries {
			start := intField(item, "startLine", "start")
			end := intField(item, "endLine", "end")
			if start > 0 && end > 0 {
				ranges = append(ranges, LineRange{Start: start, End: end})
			}
		}
		return ranges
	}
	return nil
}

func intField(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return int(v)
		}
	}
	return 0
}
