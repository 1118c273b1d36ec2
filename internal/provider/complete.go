package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/studyai-go/internal/apperr"
)

// DefaultTimeout bounds a single model call when the caller sets none.
const DefaultTimeout = 90 * time.Second

// Complete sends one system + user exchange to m and returns the trimmed
// reply text. The call is bounded by timeout; a failed or timed-out call is
// reported as ProviderUnavailable under stage so retry policies treat it as
// transient. An empty reply is GenerationInvalid.
func Complete(ctx context.Context, m model.BaseChatModel, stage apperr.Stage, system, user string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
	resp, err := m.Generate(callCtx, msgs)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", err
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("model call exceeded %s: %w", timeout, err)
		}
		return "", apperr.Wrap(stage, apperr.KindProviderUnavailable, "generate", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", apperr.New(stage, apperr.KindGenerationInvalid, "generate", "model returned an empty response")
	}
	return strings.TrimSpace(resp.Content), nil
}
