// Package providertest provides a scripted chat model for tests of
// components that call a generative model.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply is one scripted model response: Content is returned unless Err is set.
type Reply struct {
	Content string
	Err     error
}

// Model is a model.BaseChatModel that plays back scripted replies in order.
// Once the script is exhausted the last reply repeats. Every call's messages
// are recorded.
type Model struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]*schema.Message
	// Respond, when set, computes the reply from the messages instead of
	// the script.
	Respond func(msgs []*schema.Message) Reply
}

// New returns a Model that plays back replies.
func New(replies ...Reply) *Model {
	return &Model{replies: replies}
}

// Text returns a Model that always replies with content.
func Text(content string) *Model {
	return New(Reply{Content: content})
}

var _ model.BaseChatModel = (*Model)(nil)

// Generate returns the next scripted reply.
func (m *Model) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, input)
	respond := m.Respond
	var r Reply
	switch {
	case respond != nil:
	case len(m.replies) == 0:
		r = Reply{Err: errors.New("providertest: no scripted reply")}
	case idx < len(m.replies):
		r = m.replies[idx]
	default:
		r = m.replies[len(m.replies)-1]
	}
	m.mu.Unlock()

	if respond != nil {
		r = respond(input)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return schema.AssistantMessage(r.Content, nil), nil
}

// Stream is not supported.
func (m *Model) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("providertest: streaming not supported")
}

// Calls returns the number of Generate calls so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Prompt returns the user message of the i-th call.
func (m *Model) Prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.calls) {
		return ""
	}
	for _, msg := range m.calls[i] {
		if msg.Role == schema.User {
			return msg.Content
		}
	}
	return ""
}
