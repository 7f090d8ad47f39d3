package llm

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"patchloop/internal/config"
)

// TruncationNotice is appended whenever the context part had to be cut.
const TruncationNotice = "\n... (context truncated due to length) ..."

// tokenEncoder is the tokenizer surface TokenBudget needs; satisfied by
// tiktoken encodings and by fakes in tests.
type tokenEncoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// TokenBudget fits prompt parts under a model's context window, leaving a
// fixed reserve for the completion. All counts are tokenizer units, so
// truncation lands exactly at the requested size.
type TokenBudget struct {
	modelName string
	window    int
	reserve   int
	enc       tokenEncoder
}

// NewTokenBudget resolves the context window for the model (substring match
// against the configured table, conservative default otherwise) and loads
// its tokenizer, falling back to cl100k_base for unknown models.
func NewTokenBudget(modelName string, limits config.LimitsConfig) (*TokenBudget, error) {
	window := resolveWindow(modelName, limits)

	reserve := limits.OutputReserve
	if reserve <= 0 {
		reserve = 1024
	}

	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		log.Printf("[tokens] no tokenizer for %s, using cl100k_base", modelName)
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load fallback tokenizer: %w", err)
		}
	}

	return &TokenBudget{
		modelName: modelName,
		window:    window,
		reserve:   reserve,
		enc:       enc,
	}, nil
}

// resolveWindow looks up the context window by substring match against the
// configured table, so versioned tags still hit their family's entry.
func resolveWindow(modelName string, limits config.LimitsConfig) int {
	window := limits.DefaultWindow
	if window <= 0 {
		window = 4096
	}
	for key, w := range limits.ModelWindows {
		if strings.Contains(strings.ToLower(modelName), strings.ToLower(key)) {
			window = w
			break
		}
	}
	return window
}

// Count returns the token count of text for the active model.
func (b *TokenBudget) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

// SafeLimit is the window minus the output reserve.
func (b *TokenBudget) SafeLimit() int {
	return b.window - b.reserve
}

// CheckFit reports whether the assembled prompt fits under the safe limit.
func (b *TokenBudget) CheckFit(prompt string) bool {
	count := b.Count(prompt)
	if count > b.SafeLimit() {
		log.Printf("[tokens] prompt size %d exceeds safe limit %d for %s",
			count, b.SafeLimit(), b.modelName)
		return false
	}
	return true
}

// FitParts negotiates the variable prompt parts under the safe limit.
// Static parts are untouchable. When they alone overflow, the feedback is
// tail-truncated first (error messages carry their substance at the end);
// if that still does not fit, both variable parts are dropped. Otherwise the
// context is head-truncated to the remaining budget with a notice appended.
func (b *TokenBudget) FitParts(static []string, context, feedback string) (string, string) {
	staticTokens := b.Count(strings.Join(static, "\n"))
	feedbackTokens := b.Count(feedback)

	available := b.SafeLimit() - staticTokens - feedbackTokens
	if available < 0 {
		log.Printf("[tokens] static parts exceed limit, truncating feedback")
		feedbackBudget := b.SafeLimit() - staticTokens
		if feedbackBudget < 0 {
			feedbackBudget = 0
		}
		feedback = b.Truncate(feedback, feedbackBudget, true)
		feedbackTokens = b.Count(feedback)

		available = b.SafeLimit() - staticTokens - feedbackTokens
		if available < 0 {
			log.Printf("[tokens] prompt too long even without context and feedback")
			return "", ""
		}
	}

	if contextTokens := b.Count(context); contextTokens > available {
		log.Printf("[tokens] truncating context from %d to %d tokens", contextTokens, available)
		context = b.Truncate(context, available, false) + TruncationNotice
	}
	return context, feedback
}

// Truncate cuts text to at most maxTokens tokens, keeping the tail when
// keepTail is set and the head otherwise.
func (b *TokenBudget) Truncate(text string, maxTokens int, keepTail bool) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	if keepTail {
		return b.enc.Decode(tokens[len(tokens)-maxTokens:])
	}
	return b.enc.Decode(tokens[:maxTokens])
}
