// Package llmtest provides a deterministic model for tests.
package llmtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ashureev/fsagent/internal/domain"
)

// Reply configures one model turn in a scripted sequence.
type Reply struct {
	Text string
	Err  error
	// Block makes the turn wait until the channel is closed or the
	// context is done.
	Block <-chan struct{}
}

// ScriptedModel replays replies in order and records every conversation it
// was sent.
type ScriptedModel struct {
	mu      sync.Mutex
	index   int
	replies []Reply
	calls   [][]domain.Message
}

// NewScriptedModel creates a model that returns replies in order.
func NewScriptedModel(replies ...Reply) *ScriptedModel {
	return &ScriptedModel{replies: slices.Clone(replies)}
}

// Texts is shorthand for a script of plain text replies.
func Texts(texts ...string) *ScriptedModel {
	replies := make([]Reply, len(texts))
	for i, text := range texts {
		replies[i] = Reply{Text: text}
	}
	return NewScriptedModel(replies...)
}

// Complete returns the next scripted reply.
func (m *ScriptedModel) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, slices.Clone(messages))
	if m.index >= len(m.replies) {
		m.mu.Unlock()
		return "", fmt.Errorf("script exhausted at step %d", m.index+1)
	}
	current := m.replies[m.index]
	m.index++
	m.mu.Unlock()

	if current.Block != nil {
		select {
		case <-current.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if current.Err != nil {
		return "", current.Err
	}
	return current.Text, nil
}

// Calls returns the conversations received so far.
func (m *ScriptedModel) Calls() [][]domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.Message, len(m.calls))
	for i, call := range m.calls {
		out[i] = slices.Clone(call)
	}
	return out
}
