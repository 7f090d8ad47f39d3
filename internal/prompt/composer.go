package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"patchloop/internal/core"
)

//go:embed templates.yaml
var defaultTemplates []byte

const (
	separator      = "--------------------------------------------------"
	removedContext = "(Context removed due to extreme length)"

	initialInstruction = "The code fails the provided test suite. " +
		"Please analyze dependencies and fix it."
)

// ContextMode selects which context rendering a round receives.
type ContextMode int

const (
	ModeNone ContextMode = iota
	ModeSlice
	ModePeriphery
)

// String returns the template key for the mode.
func (m ContextMode) String() string {
	switch m {
	case ModeSlice:
		return "slice"
	case ModePeriphery:
		return "periphery"
	default:
		return "none"
	}
}

// ModeForRound maps a round number to its context mode: round 1 starts bare,
// round 2 adds the dependency slices, round 3 the structural skeleton.
// Rounds past 3 deliberately fall back to no context.
func ModeForRound(round int) ContextMode {
	switch round {
	case 2:
		return ModeSlice
	case 3:
		return ModePeriphery
	default:
		return ModeNone
	}
}

// templateFile mirrors the YAML template document.
type templateFile struct {
	Modules struct {
		Leading struct {
			SystemMessage   string `yaml:"system_message"`
			UserInstruction string `yaml:"user_instruction"`
		} `yaml:"leading"`
		BuggyArtifact string            `yaml:"buggy_artifact"`
		Context       map[string]string `yaml:"context"`
		TestFeedback  map[string]string `yaml:"test_feedback"`
		Trailing      string            `yaml:"trailing"`
	} `yaml:"modules"`
}

// Budget negotiates prompt parts into a model's context window. Satisfied by
// llm.TokenBudget.
type Budget interface {
	FitParts(static []string, context, feedback string) (string, string)
	CheckFit(prompt string) bool
}

// Composer renders the per-round prompt from the template set and fits it
// under the model's token budget.
type Composer struct {
	budget   Budget
	system   string
	leading  string
	artifact *template.Template
	context  map[string]*template.Template
	feedback map[string]*template.Template
	trailing *template.Template
}

// NewComposer loads the template file (the embedded default when path is
// empty) and pre-parses every template. A missing required key or a
// malformed template is a configuration error and fails construction.
func NewComposer(path string, budget Budget) (*Composer, error) {
	data := defaultTemplates
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt templates %s: %w", path, err)
		}
	}

	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}

	c := &Composer{
		budget:   budget,
		system:   tf.Modules.Leading.SystemMessage,
		leading:  strings.TrimSpace(tf.Modules.Leading.SystemMessage + "\n\n" + tf.Modules.Leading.UserInstruction),
		context:  map[string]*template.Template{},
		feedback: map[string]*template.Template{},
	}
	if c.system == "" {
		return nil, fmt.Errorf("prompt templates: missing modules.leading.system_message")
	}

	var err error
	if c.artifact, err = parseRequired("buggy_artifact", tf.Modules.BuggyArtifact); err != nil {
		return nil, err
	}
	if c.trailing, err = parseRequired("trailing", tf.Modules.Trailing); err != nil {
		return nil, err
	}

	for _, key := range []string{"none", "slice", "periphery"} {
		tmpl, ok := tf.Modules.Context[key]
		if !ok {
			return nil, fmt.Errorf("prompt templates: missing modules.context.%s", key)
		}
		if c.context[key], err = parseTemplate("context."+key, tmpl); err != nil {
			return nil, err
		}
	}
	for _, key := range []string{"initial", "failure"} {
		tmpl, ok := tf.Modules.TestFeedback[key]
		if !ok {
			return nil, fmt.Errorf("prompt templates: missing modules.test_feedback.%s", key)
		}
		if c.feedback[key], err = parseTemplate("test_feedback."+key, tmpl); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func parseRequired(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("prompt templates: missing modules.%s", name)
	}
	return parseTemplate(name, text)
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("prompt templates: parse %s: %w", name, err)
	}
	return t, nil
}

// SystemMessage returns the system instruction sent alongside every prompt.
func (c *Composer) SystemMessage() string {
	return c.system
}

// Compose builds the full prompt for one round. Missing context degrades to
// the "(None)" placeholders; only template execution itself can fail.
func (c *Composer) Compose(session *core.RepairSession, round int, last *core.ValidationResult) (string, error) {
	artifact := session.Artifact

	artifactText, err := render(c.artifact, map[string]any{
		"file_path":         artifact.FilePath,
		"method_name":       artifact.MethodName,
		"language":          artifact.Language,
		"buggy_method_body": artifact.SourceCode,
		"bug_line_number":   artifact.BuggyLineNo,
	})
	if err != nil {
		return "", err
	}

	contextText, err := c.renderContext(session, ModeForRound(round))
	if err != nil {
		return "", err
	}

	feedbackText, err := c.renderFeedback(last)
	if err != nil {
		return "", err
	}

	trailingText, err := render(c.trailing, map[string]any{
		"language": artifact.Language,
	})
	if err != nil {
		return "", err
	}

	static := []string{c.leading, separator, artifactText, separator, trailingText}
	contextText, feedbackText = c.budget.FitParts(static, contextText, feedbackText)

	full := assemble(c.leading, artifactText, contextText, feedbackText, trailingText)

	// Backstop: the budget negotiation above works on the parts, but the
	// joined prompt is what actually ships: re-measure and drop context
	// entirely if it still overflows.
	if !c.budget.CheckFit(full) {
		full = assemble(c.leading, artifactText, removedContext, feedbackText, trailingText)
	}
	return full, nil
}

func (c *Composer) renderContext(session *core.RepairSession, mode ContextMode) (string, error) {
	dc := session.Context
	if dc == nil {
		dc = &core.DependencyContext{}
	}

	vars := map[string]any{"language": session.Artifact.Language}
	switch mode {
	case ModeSlice:
		vars["data_dependency_slice"] = orNone(dc.DataDependencySlice)
		vars["control_dependency_slice"] = orNone(dc.ControlDependencySlice)
	case ModePeriphery:
		vars["class_skeleton"] = orNone(dc.PeripheralContext)
	}
	return render(c.context[mode.String()], vars)
}

func (c *Composer) renderFeedback(last *core.ValidationResult) (string, error) {
	if last != nil && !last.Passed {
		return render(c.feedback["failure"], map[string]any{
			"error_message":    last.ErrorMessage,
			"failed_test_name": last.FailedTestName,
		})
	}
	return render(c.feedback["initial"], map[string]any{
		"issue_description": initialInstruction,
	})
}

func render(t *template.Template, vars map[string]any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

func assemble(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n\n")
}

func orNone(s string) string {
	if s == "" {
		return "(None)"
	}
	return s
}
