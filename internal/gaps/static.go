package gaps

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-search/reasoner/internal/llm"
)

const staticSystemPrompt = `You are a knowledge synthesis assistant. Answer the question from your own training knowledge in 2-4 factual sentences. State only what you are confident about. If the answer depends on current events or live data you cannot know, say exactly what is missing instead of guessing.`

// StaticKnowledge synthesizes answers from the model's own knowledge.
// It is the only channel that is always enabled.
type StaticKnowledge struct {
	invoker llm.Invoker
}

func NewStaticKnowledge(invoker llm.Invoker) *StaticKnowledge {
	return &StaticKnowledge{invoker: invoker}
}

func (s *StaticKnowledge) Name() string { return "static_knowledge" }

// Fetch synthesizes an answer for the gap. When the analyst already
// proposed an answer inline, query carries it prefixed so the model
// can confirm or correct rather than start cold.
func (s *StaticKnowledge) Fetch(ctx context.Context, query string) (Result, error) {
	resp, err := s.invoker.Invoke(ctx, llm.Request{
		System:      staticSystemPrompt,
		User:        query,
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		return Result{}, fmt.Errorf("static_knowledge: %w", err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return Result{}, fmt.Errorf("static_knowledge: empty synthesis for %q", query)
	}
	return Result{
		Content:     content,
		Attribution: "model knowledge",
		Title:       "Synthesized: " + truncate(query, 60),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
