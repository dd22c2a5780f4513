// Package llm defines the completion call the orchestrator depends on and
// ships an OpenAI-compatible implementation.
//
// The completion call is an external collaborator: the orchestrator only
// sees the Completer interface, records its results as steps, and applies
// retries through Retrying.
package llm

import (
	"context"
	"sync"
)

// Completer issues chat completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// MockCompleter returns canned responses and records every request.
type MockCompleter struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
	index     int
}

// NewMockCompleter creates a mock that answers with texts in order,
// repeating the last one once they run out.
func NewMockCompleter(texts ...string) *MockCompleter {
	m := &MockCompleter{}
	for _, text := range texts {
		m.responses = append(m.responses, TextResponse(text))
	}
	return m
}

// TextResponse builds a single-choice assistant response.
func TextResponse(text string) *Response {
	return &Response{
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
	}
}

// WithResponses appends full responses to the script.
func (m *MockCompleter) WithResponses(responses ...*Response) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// WithErrors makes the next calls fail with errs, in order, before the
// scripted responses are used.
func (m *MockCompleter) WithErrors(errs ...error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if len(m.responses) == 0 {
		return TextResponse(""), nil
	}
	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	return resp, nil
}

// Calls returns the requests received so far.
func (m *MockCompleter) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns the number of requests received.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
