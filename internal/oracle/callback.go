package oracle

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	ecmodel "github.com/cloudwego/eino/components/model"

	"github.com/dyike/CareMesh/internal/observability"
)

// NewLogHandler logs chat model runs: start, token usage on end, and errors.
func NewLogHandler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if info == nil || info.Component != components.ComponentOfChatModel {
				return ctx
			}
			observability.LoggerFromContext(ctx).Debug("oracle call started", "node", info.Name, "type", info.Type)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info == nil || info.Component != components.ComponentOfChatModel {
				return ctx
			}
			attrs := []any{"node", info.Name, "type", info.Type}
			if out := ecmodel.ConvCallbackOutput(output); out != nil {
				if out.TokenUsage != nil {
					attrs = append(attrs, "prompt_tokens", out.TokenUsage.PromptTokens,
						"completion_tokens", out.TokenUsage.CompletionTokens)
				}
				if out.Message != nil {
					attrs = append(attrs, "response_len", len(out.Message.Content))
				}
			}
			observability.LoggerFromContext(ctx).Debug("oracle call finished", attrs...)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			observability.LoggerFromContext(ctx).Warn("oracle call failed", "node", name, "error", err)
			return ctx
		}).
		Build()
}
