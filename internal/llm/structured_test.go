package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedInvoker returns canned responses in order.
type scriptedInvoker struct {
	responses []Response
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.User)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp Response
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func newTestClient(inv Invoker, attempts int) *StructuredClient {
	c := NewStructuredClient(inv, attempts, time.Millisecond, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

type testShape struct {
	Status string `json:"status"`
	Score  int    `json:"score"`
}

func TestCompleteDecodesFirstAttempt(t *testing.T) {
	inv := &scriptedInvoker{responses: []Response{
		{Content: `{"status":"ok","score":7}`, InputTokens: 10, OutputTokens: 5},
	}}
	var out testShape
	usage, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 1, usage.Attempts)
	assert.Equal(t, 15, usage.Total())
}

func TestCompleteRepairsInvalidJSON(t *testing.T) {
	inv := &scriptedInvoker{responses: []Response{
		{Content: `not json at all`},
		{Content: "```json\n{\"status\":\"ok\",\"score\":3}\n```"},
	}}
	var out testShape
	usage, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Attempts)
	assert.Equal(t, "ok", out.Status)
	// Second prompt carries the repair instruction.
	require.Len(t, inv.prompts, 2)
	assert.Contains(t, inv.prompts[1], "previous response was rejected")
}

func TestCompleteRetriesOnValidationFailure(t *testing.T) {
	inv := &scriptedInvoker{responses: []Response{
		{Content: `{"status":"","score":0}`},
		{Content: `{"status":"ok","score":1}`},
	}}
	var out testShape
	validate := func() error {
		if out.Status == "" {
			return errors.New("status is required")
		}
		return nil
	}
	_, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, validate)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
}

func TestCompleteRejectedAttemptLeavesNoResidue(t *testing.T) {
	// Fields present only in a rejected attempt must not survive into
	// the accepted decode.
	type draft struct {
		Status string   `json:"status"`
		Gaps   []string `json:"gaps"`
	}
	inv := &scriptedInvoker{responses: []Response{
		{Content: `{"status":"BOGUS","gaps":["leftover gap"]}`},
		{Content: `{"status":"OK"}`},
	}}
	var out draft
	validate := func() error {
		if out.Status != "OK" {
			return fmt.Errorf("status must be OK, got %q", out.Status)
		}
		return nil
	}
	usage, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, validate)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Attempts)
	assert.Equal(t, "OK", out.Status)
	assert.Empty(t, out.Gaps)
}

func TestCompleteTransportErrorSkipsRepairPrompt(t *testing.T) {
	// A connection failure is retried, but the prompt stays untouched:
	// there is nothing for the model to repair.
	inv := &scriptedInvoker{
		errs: []error{errors.New("connection reset")},
		responses: []Response{
			{},
			{Content: `{"status":"ok","score":2}`},
		},
	}
	var out testShape
	usage, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 2, usage.Attempts)
	require.Len(t, inv.prompts, 2)
	assert.Equal(t, inv.prompts[0], inv.prompts[1])
	assert.NotContains(t, inv.prompts[1], "previous response was rejected")
}

func TestCompleteExhaustionRetainsAttemptReasons(t *testing.T) {
	inv := &scriptedInvoker{responses: []Response{
		{Content: `garbage`},
		{Content: `more garbage`},
		{Content: `still garbage`},
	}}
	var out testShape
	_, err := newTestClient(inv, 3).Complete(context.Background(), StructuredRequest{User: "go"}, &out, nil)
	require.Error(t, err)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 3)
	for i, a := range exhausted.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Contains(t, a.Reason, "decode")
	}
	// Backoff doubles per attempt.
	assert.Equal(t, exhausted.Attempts[0].Delay*2, exhausted.Attempts[1].Delay)
}

func TestCompleteStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &scriptedInvoker{
		errs:      []error{fmt.Errorf("transport down")},
		responses: []Response{{}},
	}
	cancel()
	var out testShape
	_, err := newTestClient(inv, 3).Complete(ctx, StructuredRequest{User: "go"}, &out, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFences(in))
	}
}
