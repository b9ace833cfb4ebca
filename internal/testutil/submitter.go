package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// SubmitCall records one Submit invocation in arrival order.
type SubmitCall struct {
	Path           string
	Payload        json.RawMessage
	IdempotencyKey string
}

// ScriptedSubmitter is a guide.Submitter double. By default every Submit
// succeeds; FailPath makes all submissions to a path fail, and FailOnce
// makes only the next submission to a path fail. Calls are recorded in
// order for assertions.
type ScriptedSubmitter struct {
	mu        sync.Mutex
	calls     []SubmitCall
	failPaths map[string]error
	failOnce  map[string]error
}

func NewScriptedSubmitter() *ScriptedSubmitter {
	return &ScriptedSubmitter{
		failPaths: make(map[string]error),
		failOnce:  make(map[string]error),
	}
}

// FailPath makes every submission to path return err.
func (s *ScriptedSubmitter) FailPath(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = err
}

// FailOnce makes only the next submission to path return err.
func (s *ScriptedSubmitter) FailOnce(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[path] = err
}

func (s *ScriptedSubmitter) Submit(_ context.Context, path string, payload json.RawMessage, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, SubmitCall{
		Path:           path,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	})

	if err, ok := s.failOnce[path]; ok {
		delete(s.failOnce, path)
		return fmt.Errorf("submitting to %s: %w", path, err)
	}
	if err, ok := s.failPaths[path]; ok {
		return fmt.Errorf("submitting to %s: %w", path, err)
	}
	return nil
}

// Calls returns a copy of the recorded submissions.
func (s *ScriptedSubmitter) Calls() []SubmitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubmitCall, len(s.calls))
	copy(out, s.calls)
	return out
}
