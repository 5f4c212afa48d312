package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Attempt records one failed decode/validate pass for observability.
type Attempt struct {
	Number int           `json:"number"`
	Reason string        `json:"reason"`
	Delay  time.Duration `json:"delay"`
}

// ExhaustedError is returned when every repair attempt failed. It keeps
// each attempt's failure reason so callers can log the whole story.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "structured output: no attempts made"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("structured output: %d attempts exhausted, last: %s", len(e.Attempts), last.Reason)
}

// StructuredRequest declares what the model must produce.
type StructuredRequest struct {
	System string
	User   string
	// Schema is a prose-plus-JSON description of the expected output
	// shape, appended to the user prompt.
	Schema      string
	MaxTokens   int
	Temperature float32
}

// StructuredClient layers schema-validated decoding with a bounded
// repair/retry loop over any Invoker.
type StructuredClient struct {
	invoker     Invoker
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration

	// test hook; defaults to time.Sleep-with-context
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStructuredClient wraps an Invoker with repair/retry behavior.
func NewStructuredClient(invoker Invoker, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *StructuredClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &StructuredClient{
		invoker:     invoker,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Complete invokes the model, decodes the JSON response into out, and
// runs validate. On decode or validation failure it retries with the
// failure appended to the prompt so the model can repair its output,
// backing off exponentially between attempts. Token usage is summed
// across attempts and returned even on failure.
func (c *StructuredClient) Complete(ctx context.Context, req StructuredRequest, out interface{}, validate func() error) (Usage, error) {
	var usage Usage
	var attempts []Attempt

	prompt := req.User
	if req.Schema != "" {
		prompt = prompt + "\n\nRespond with a single JSON object of this exact shape:\n" + req.Schema
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.invoker.Invoke(ctx, Request{
			System:      req.System,
			User:        prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			JSONOutput:  true,
		})
		usage.InputTokens += resp.InputTokens
		usage.OutputTokens += resp.OutputTokens

		reason := ""
		repairable := false
		switch {
		case err != nil:
			// Transport errors get the same backoff, but no repair
			// prompt: the model cannot act on them.
			if ctx.Err() != nil {
				return usage, ctx.Err()
			}
			reason = fmt.Sprintf("invoke: %v", err)
		default:
			repairable = true
			payload := StripCodeFences(resp.Content)
			// A rejected attempt must not leave fields behind for the
			// next decode to inherit.
			resetDest(out)
			if decErr := json.Unmarshal([]byte(payload), out); decErr != nil {
				reason = fmt.Sprintf("decode: %v", decErr)
			} else if validate != nil {
				if valErr := validate(); valErr != nil {
					reason = fmt.Sprintf("validate: %v", valErr)
				}
			}
		}

		if reason == "" {
			if attempt > 1 {
				c.logger.Info("Structured output repaired",
					zap.Int("attempt", attempt),
					zap.Int("failed_attempts", len(attempts)))
			}
			usage.Attempts = attempt
			return usage, nil
		}

		delay := c.baseDelay << uint(attempt-1)
		attempts = append(attempts, Attempt{Number: attempt, Reason: reason, Delay: delay})
		c.logger.Warn("Structured output attempt failed",
			zap.Int("attempt", attempt),
			zap.String("reason", reason))

		if attempt == c.maxAttempts {
			break
		}
		if repairable {
			// Feed the failure back so the next attempt can repair it.
			prompt = prompt + "\n\nYour previous response was rejected: " + reason +
				"\nReturn only the corrected JSON object."
		}
		if err := c.sleep(ctx, delay); err != nil {
			return usage, err
		}
	}

	usage.Attempts = c.maxAttempts
	return usage, &ExhaustedError{Attempts: attempts}
}

// Usage aggregates token counts across the attempts of one Complete call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Attempts     int
}

// Total returns combined input+output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// resetDest zeroes the caller's destination value in place, so each
// decode starts from a clean struct.
func resetDest(out interface{}) {
	v := reflect.ValueOf(out)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}

// StripCodeFences removes a surrounding markdown code fence from a
// model response, if present.
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```json") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		if idx := strings.LastIndex(t, "```"); idx != -1 {
			t = t[:idx]
		}
		return strings.TrimSpace(t)
	}
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if idx := strings.LastIndex(t, "```"); idx != -1 {
			t = t[:idx]
		}
		return strings.TrimSpace(t)
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
