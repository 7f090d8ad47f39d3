package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"

	"patchloop/internal/core"
)

// funcSpan is one function or method found in the parsed source.
type funcSpan struct {
	Name  string
	Start int // 1-based, inclusive
	End   int // 1-based, inclusive
}

// LocalEngine is an in-process QueryEngine backed by tree-sitter. It answers
// the structural query with method line ranges and the dependency queries
// with the span of the function enclosing the defect, a coarse stand-in for
// real graph slicing, used when no external engine is installed. It speaks
// the same wire format: diagnostic lines followed by a JSON-array tail.
type LocalEngine struct {
	spans     []funcSpan
	buggyLine int
	lineCount int
}

// NewLocalEngine creates an unprepared local engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

// Prepare parses the artifact's source once and indexes its function spans.
func (e *LocalEngine) Prepare(ctx context.Context, artifact *core.Artifact, cacheDir string) error {
	lang, err := languageFor(artifact.Language)
	if err != nil {
		return err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	code := []byte(artifact.SourceCode)
	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return fmt.Errorf("parse %s source: %w", artifact.Language, err)
	}
	defer tree.Close()

	e.spans = nil
	collectFunctionSpans(tree.RootNode(), code, &e.spans)
	e.buggyLine = artifact.BuggyLineNo
	e.lineCount = strings.Count(artifact.SourceCode, "\n") + 1

	log.Printf("[local] indexed %d function spans for %s", len(e.spans), artifact.Identifier())
	return nil
}

// RunScript dispatches on the script identifier the same way the external
// engine keys its query scripts.
func (e *LocalEngine) RunScript(ctx context.Context, script string, params map[string]string) (string, error) {
	if e.lineCount == 0 {
		return "", fmt.Errorf("local engine not prepared")
	}
	switch {
	case strings.Contains(script, "data_dep"), strings.Contains(script, "control_dep"):
		return e.sliceOutput(params), nil
	case strings.Contains(script, "structure"), strings.Contains(script, "ast"):
		return e.structureOutput(), nil
	default:
		return "", fmt.Errorf("local engine has no handler for script %q", script)
	}
}

// sliceOutput emits the line numbers of the function enclosing the defect.
func (e *LocalEngine) sliceOutput(params map[string]string) string {
	line := e.buggyLine
	if v, ok := params["lineNumber"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			line = n
		}
	}

	span, ok := e.enclosingSpan(line, params["methodName"])
	if !ok {
		return "local engine: no enclosing function\n[]"
	}

	nums := make([]int, 0, span.End-span.Start+1)
	for n := span.Start; n <= span.End && n <= e.lineCount; n++ {
		nums = append(nums, n)
	}
	payload, _ := json.Marshal(nums)
	return fmt.Sprintf("local engine: slice via %s (L%d-%d)\n%s",
		span.Name, span.Start, span.End, payload)
}

// structureOutput emits collapsible ranges for every function except the one
// enclosing the defect, so peripheral code folds away while local context
// survives.
func (e *LocalEngine) structureOutput() string {
	enclosing, hasEnclosing := e.enclosingSpan(e.buggyLine, "")

	ranges := make([]LineRange, 0, len(e.spans))
	for _, s := range e.spans {
		if hasEnclosing && s.Start == enclosing.Start && s.End == enclosing.End {
			continue
		}
		ranges = append(ranges, LineRange{Start: s.Start, End: s.End})
	}
	payload, _ := json.Marshal(ranges)
	return fmt.Sprintf("local engine: %d collapsible blocks\n%s", len(ranges), payload)
}

// enclosingSpan picks the innermost span containing the line, falling back
// to a name match when the line hits nothing.
func (e *LocalEngine) enclosingSpan(line int, methodName string) (funcSpan, bool) {
	best := funcSpan{}
	found := false
	for _, s := range e.spans {
		if s.Start <= line && line <= s.End {
			if !found || s.End-s.Start < best.End-best.Start {
				best = s
				found = true
			}
		}
	}
	if found {
		return best, true
	}
	if methodName != "" {
		for _, s := range e.spans {
			if s.Name == methodName {
				return s, true
			}
		}
	}
	return funcSpan{}, false
}

// collectFunctionSpans walks the AST collecting function-like declarations.
func collectFunctionSpans(node *sitter.Node, code []byte, spans *[]funcSpan) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "method_declaration", "constructor_declaration",
			"function_declaration", "function_definition":
			span := funcSpan{
				Start: int(child.StartPoint().Row) + 1,
				End:   int(child.EndPoint().Row) + 1,
			}
			if name := child.ChildByFieldName("name"); name != nil {
				span.Name = name.Content(code)
			}
			*spans = append(*spans, span)
		}
		collectFunctionSpans(child, code, spans)
	}
}

// languageFor maps an artifact language tag to its tree-sitter grammar.
func languageFor(name string) (*sitter.Language, error) {
	switch strings.ToLower(name) {
	case "java":
		return java.GetLanguage(), nil
	case "go":
		return golang.GetLanguage(), nil
	case "python":
		return python.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language for local analysis: %s", name)
	}
}
