package core

import "fmt"

// PatchStatus tracks a candidate patch through validation.
type PatchStatus int

const (
	StatusGenerated PatchStatus = iota // just produced by the model
	StatusCompileFailed
	StatusTestFailed
	StatusPlausible // passed all trigger tests
	StatusTimeout
)

// String returns the status label used in logs and persisted results.
func (s PatchStatus) String() string {
	switch s {
	case StatusGenerated:
		return "GENERATED"
	case StatusCompileFailed:
		return "COMPILE_ERR"
	case StatusTestFailed:
		return "TEST_FAIL"
	case StatusPlausible:
		return "PLAUSIBLE"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("PatchStatus(%d)", int(s))
	}
}

// MarshalText makes the status readable in persisted JSON.
func (s PatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ValidationResult captures one execution of the test oracle.
type ValidationResult struct {
	Passed         bool    `json:"passed"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	FailedTestName string  `json:"failed_test_name,omitempty"`
	ExecutionSecs  float64 `json:"execution_secs"`
}

// FeedbackString renders the result as prompt feedback for the next round.
func (r *ValidationResult) FeedbackString() string {
	if r.Passed {
		return "Tests Passed."
	}
	return fmt.Sprintf("Error Message:\n%s\nFailed Test Case: %s",
		r.ErrorMessage, r.FailedTestName)
}

// CandidatePatch is one model-produced repair attempt.
type CandidatePatch struct {
	BugID       string            `json:"bug_id"`
	RawOutput   string            `json:"raw_output"`
	CleanedCode string            `json:"cleaned_code"`
	Model       string            `json:"model"`
	RoundNumber int               `json:"round_number"`
	Diff        string            `json:"diff,omitempty"`
	Status      PatchStatus       `json:"status"`
	Result      *ValidationResult `json:"result,omitempty"`
}

// Plausible reports whether the patch passed validation.
func (p *CandidatePatch) Plausible() bool {
	return p.Status == StatusPlausible
}

// Identifier returns a stable name for persisting this patch.
func (p *CandidatePatch) Identifier() string {
	return fmt.Sprintf("%s_%s_round%d", p.BugID, p.Model, p.RoundNumber)
}
