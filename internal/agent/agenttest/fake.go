// Package agenttest provides a scriptable agent.Client for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/polly/internal/agent"
)

// Fake is a deterministic agent.Client.
//
// Replies are returned in order; once exhausted Complete answers "reply N".
// Gate, when non-nil, holds every Complete call until a value is received.
// Started, when non-nil, receives once per Complete call before the gate.
type Fake struct {
	Gate    chan struct{}
	Started chan struct{}

	mu            sync.Mutex
	replies       []string
	verdict       bool
	completeErr   error
	classifyErr   error
	completeCalls [][]agent.Message
	classifyCalls []string
}

// New returns a Fake that answers Complete with replies in order.
func New(replies ...string) *Fake {
	return &Fake{replies: replies}
}

// Complete records messages and returns the next scripted reply.
func (f *Fake) Complete(ctx context.Context, messages []agent.Message) (string, error) {
	f.mu.Lock()
	f.completeCalls = append(f.completeCalls, append([]agent.Message(nil), messages...))
	n := len(f.completeCalls)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return r, nil
	}
	return fmt.Sprintf("reply %d", n), nil
}

// Classify records prompt and returns the scripted verdict.
func (f *Fake) Classify(_ context.Context, prompt string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls = append(f.classifyCalls, prompt)
	if f.classifyErr != nil {
		return false, f.classifyErr
	}
	return f.verdict, nil
}

// SetVerdict sets the Classify answer.
func (f *Fake) SetVerdict(v bool) {
	f.mu.Lock()
	f.verdict = v
	f.mu.Unlock()
}

// FailComplete makes Complete return err; nil restores normal replies.
func (f *Fake) FailComplete(err error) {
	f.mu.Lock()
	f.completeErr = err
	f.mu.Unlock()
}

// FailClassify makes Classify return err; nil restores the verdict.
func (f *Fake) FailClassify(err error) {
	f.mu.Lock()
	f.classifyErr = err
	f.mu.Unlock()
}

// CompleteCalls returns the messages of every Complete call so far.
func (f *Fake) CompleteCalls() [][]agent.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]agent.Message(nil), f.completeCalls...)
}

// ClassifyCalls returns every Classify prompt so far.
func (f *Fake) ClassifyCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.classifyCalls...)
}

var _ agent.Client = (*Fake)(nil)
