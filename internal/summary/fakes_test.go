package summary

import (
	"context"
	"sync"
	"time"
)

type fakeLLM struct {
	mu     sync.Mutex
	chunks []StreamChunk
	err    error
	reqs   []LLMRequest
}

func (f *fakeLLM) CompleteStream(_ context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) requests() []LLMRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LLMRequest(nil), f.reqs...)
}

func textChunks(texts ...string) []StreamChunk {
	chunks := make([]StreamChunk, 0, len(texts)+1)
	for _, t := range texts {
		chunks = append(chunks, StreamChunk{Text: t})
	}
	return append(chunks, StreamChunk{Done: true})
}

type auditRecord struct {
	kind           string
	consultationID string
	subject        string
	fragments      int
	fallback       bool
	clientAbort    bool
	cause          error
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAuditor) LogStarted(_ context.Context, consultationID, subject, _, _, _ string) error {
	a.add(auditRecord{kind: "started", consultationID: consultationID, subject: subject})
	return nil
}

func (a *fakeAuditor) LogCompleted(_ context.Context, consultationID, subject, _, _ string, fragments int, _ time.Duration, fallbackUsed bool) error {
	a.add(auditRecord{kind: "completed", consultationID: consultationID, subject: subject, fragments: fragments, fallback: fallbackUsed})
	return nil
}

func (a *fakeAuditor) LogFailed(_ context.Context, consultationID, subject, _, _ string, fragments int, _ time.Duration, cause error, clientAbort bool) error {
	a.add(auditRecord{kind: "failed", consultationID: consultationID, subject: subject, fragments: fragments, cause: cause, clientAbort: clientAbort})
	return nil
}

func (a *fakeAuditor) add(r auditRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

func (a *fakeAuditor) all() []auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditRecord(nil), a.records...)
}

func validVisit() Visit {
	return Visit{PatientName: "Jane Doe", DateOfVisit: "2024-03-01", Notes: "BP 120/80"}
}
