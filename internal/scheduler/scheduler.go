package scheduler

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"patchloop/internal/core"
	"patchloop/internal/llm"
	"patchloop/internal/prompt"
	"patchloop/internal/sandbox"
)

// State is the scheduler's terminal disposition for one session.
type State int

const (
	StatePending State = iota
	StateSuccess
	StateRoundExhausted
)

// String returns the state label.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSuccess:
		return "SUCCESS"
	case StateRoundExhausted:
		return "ROUND_EXHAUSTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Validator runs the test oracle against the currently-applied candidate.
type Validator interface {
	Validate(ctx context.Context, artifact *core.Artifact) *core.ValidationResult
}

// Outcome summarizes one finished repair session.
type Outcome struct {
	State   State                  `json:"state"`
	Rounds  int                    `json:"rounds"`
	Patches []*core.CandidatePatch `json:"patches"`
}

// Fixed reports whether a plausible patch was found.
func (o *Outcome) Fixed() bool { return o.State == StateSuccess }

// Scheduler drives the repair rounds for one session: compose → generate →
// extract → apply → validate, feeding each failure back into the next round.
type Scheduler struct {
	composer  *prompt.Composer
	provider  llm.Provider
	retry     *llm.RetryPolicy
	files     *sandbox.FileManager
	validator Validator
	maxRounds int
}

// New wires a scheduler. maxRounds bounds the loop; values below 1 get the
// default of 3.
func New(composer *prompt.Composer, provider llm.Provider, retry *llm.RetryPolicy,
	files *sandbox.FileManager, validator Validator, maxRounds int) *Scheduler {
	if maxRounds < 1 {
		maxRounds = 3
	}
	return &Scheduler{
		composer:  composer,
		provider:  provider,
		retry:     retry,
		files:     files,
		validator: validator,
		maxRounds: maxRounds,
	}
}

// Run executes up to maxRounds repair rounds for the session. The file under
// repair is restored to its pre-session content on every exit path,
// including cancellation and panics, before Run returns.
func (s *Scheduler) Run(ctx context.Context, session *core.RepairSession) (*Outcome, error) {
	artifact := session.Artifact
	outcome := &Outcome{State: StatePending}

	if err := s.files.Backup(artifact.FilePath); err != nil {
		return nil, fmt.Errorf("backup %s: %w", artifact.FilePath, err)
	}
	defer func() {
		if err := s.files.Restore(artifact.FilePath); err != nil {
			log.Printf("[scheduler] final restore failed: %v", err)
		}
	}()

	var lastResult *core.ValidationResult

	for round := 1; round <= s.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Rounds = round
		log.Printf("[scheduler] --- round %d/%d (context: %s) ---",
			round, s.maxRounds, prompt.ModeForRound(round))

		promptText, err := s.composer.Compose(session, round, lastResult)
		if err != nil {
			// Template failures are configuration errors, not round outcomes.
			return outcome, fmt.Errorf("compose round %d: %w", round, err)
		}

		raw, err := s.retry.Do(ctx, func() (string, error) {
			return s.provider.Generate(ctx, s.composer.SystemMessage(), promptText)
		})
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			// No completion this round: consume it and move on.
			log.Printf("[scheduler] generation failed in round %d: %v", round, err)
			continue
		}

		code := ExtractCodeBlock(raw)
		if code == "" {
			log.Printf("[scheduler] no code block in model response")
			lastResult = &core.ValidationResult{
				Passed:       false,
				ErrorMessage: "LLM did not return a valid code block.",
			}
			session.AddFeedback(lastResult.FeedbackString())
			continue
		}

		patch := &core.CandidatePatch{
			BugID:       artifact.BugID,
			RawOutput:   raw,
			CleanedCode: code,
			Model:       s.provider.ModelName(),
			RoundNumber: round,
			Status:      core.StatusGenerated,
		}

		if err := s.files.WritePatch(artifact.FilePath, code); err != nil {
			log.Printf("[scheduler] failed to apply patch: %v", err)
			patch.Status = core.StatusCompileFailed
			lastResult = &core.ValidationResult{
				Passed:       false,
				ErrorMessage: "File write error: " + err.Error(),
			}
			session.AddFeedback(lastResult.FeedbackString())
			s.recordPatch(outcome, patch)
			continue
		}
		patch.Diff = s.files.Diff(artifact.SourceCode, code, artifact.FilePath)

		result := s.validator.Validate(ctx, artifact)
		patch.Result = result
		lastResult = result

		if result.Passed {
			log.Printf("[scheduler] SUCCESS: plausible patch in round %d", round)
			patch.Status = core.StatusPlausible
			s.recordPatch(outcome, patch)
			outcome.State = StateSuccess
			return outcome, nil
		}

		log.Printf("[scheduler] patch failed: %s", head(result.ErrorMessage, 100))
		patch.Status = core.StatusTestFailed
		s.recordPatch(outcome, patch)
		session.AddFeedback(result.FeedbackString())

		// Undo this round's mutation before the next attempt.
		if err := s.files.Restore(artifact.FilePath); err != nil {
			return outcome, fmt.Errorf("restore after round %d: %w", round, err)
		}
	}

	log.Printf("[scheduler] no fix found after %d rounds", s.maxRounds)
	outcome.State = StateRoundExhausted
	return outcome, nil
}

func (s *Scheduler) recordPatch(outcome *Outcome, patch *core.CandidatePatch) {
	outcome.Patches = append(outcome.Patches, patch)
	if err := s.files.SaveResult(patch.Identifier()+".json", patch); err != nil {
		log.Printf("[scheduler] persist patch: %v", err)
	}
}

var codeBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\r?\\n(.*?)```")

// ExtractCodeBlock returns the content of the first fenced code block in the
// completion text, or empty when none is present.
func ExtractCodeBlock(text string) string {
	m := codeBlockRe.FindStringSubmatch(text)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return ""
	}
	return strings.TrimRight(m[1], "\n\r") + "\n"
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
