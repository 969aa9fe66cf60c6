package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/pkg/logging"
)

func newTestService(llm StreamingLLMClient, auditor Auditor) *Service {
	return NewService(llm, Config{Provider: "openai", Model: "gpt-5-nano", Temperature: -1},
		metrics.NewConsultationMetrics(prometheus.NewRegistry()), auditor, logging.New("error"))
}

func TestServiceStreamsInOrder(t *testing.T) {
	llm := &fakeLLM{chunks: textChunks("## Sum", "mary\n", "- BP normal")}
	auditor := &fakeAuditor{}
	svc := newTestService(llm, auditor)

	stream, err := svc.Start(context.Background(), validVisit(), Caller{Subject: "user_1", SessionID: "sess_1"})
	require.NoError(t, err)

	var got []string
	require.NoError(t, stream.Run(func(text string) error {
		got = append(got, text)
		return nil
	}))
	assert.Equal(t, []string{"## Sum", "mary\n", "- BP normal"}, got)

	reqs := llm.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-5-nano", reqs[0].Model)
	assert.Contains(t, reqs[0].Messages[0].Content, "Patient Name: Jane Doe")

	records := auditor.all()
	require.Len(t, records, 2)
	assert.Equal(t, "started", records[0].kind)
	assert.Equal(t, "completed", records[1].kind)
	assert.Equal(t, stream.ID(), records[1].consultationID)
	assert.Equal(t, "user_1", records[1].subject)
	assert.Equal(t, 3, records[1].fragments)
}

func TestServiceRejectsInvalidVisit(t *testing.T) {
	llm := &fakeLLM{}
	_, err := newTestService(llm, nil).Start(context.Background(), Visit{}, Caller{})
	assert.Error(t, err)
	assert.Empty(t, llm.requests())
}

func TestServiceOpenFailure(t *testing.T) {
	auditor := &fakeAuditor{}
	_, err := newTestService(&fakeLLM{err: errors.New("no capacity")}, auditor).
		Start(context.Background(), validVisit(), Caller{Subject: "user_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")

	records := auditor.all()
	require.Len(t, records, 2)
	assert.Equal(t, "failed", records[1].kind)
	assert.False(t, records[1].clientAbort)
}

func TestServiceProviderErrorMidStream(t *testing.T) {
	llm := &fakeLLM{chunks: []StreamChunk{{Text: "Partial"}, {Error: errors.New("reset"), Done: true}}}
	auditor := &fakeAuditor{}
	stream, err := newTestService(llm, auditor).Start(context.Background(), validVisit(), Caller{})
	require.NoError(t, err)

	var got string
	err = stream.Run(func(text string) error { got += text; return nil })
	assert.EqualError(t, err, "reset")
	assert.Equal(t, "Partial", got)

	records := auditor.all()
	require.Len(t, records, 2)
	assert.Equal(t, "failed", records[1].kind)
	assert.Equal(t, 1, records[1].fragments)
}

func TestServiceClientAbort(t *testing.T) {
	llm := &fakeLLM{chunks: textChunks("a", "b", "c")}
	auditor := &fakeAuditor{}
	stream, err := newTestService(llm, auditor).Start(context.Background(), validVisit(), Caller{})
	require.NoError(t, err)

	gone := errors.New("broken pipe")
	calls := 0
	err = stream.Run(func(string) error {
		calls++
		return gone
	})
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 1, calls)

	records := auditor.all()
	require.Len(t, records, 2)
	assert.True(t, records[1].clientAbort)
}

func TestServiceFallbackRecorded(t *testing.T) {
	llm := &fakeLLM{chunks: []StreamChunk{{Text: "z", Fallback: true}, {Done: true, Fallback: true}}}
	auditor := &fakeAuditor{}
	stream, err := newTestService(llm, auditor).Start(context.Background(), validVisit(), Caller{})
	require.NoError(t, err)
	require.NoError(t, stream.Run(func(string) error { return nil }))
	assert.True(t, auditor.all()[1].fallback)
}

func TestServiceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// A provider that stops on cancellation closes its channel without Done.
	llm := &fakeLLM{chunks: []StreamChunk{{Text: "a"}}}
	stream, err := newTestService(llm, nil).Start(ctx, validVisit(), Caller{})
	require.NoError(t, err)
	cancel()
	err = stream.Run(func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
