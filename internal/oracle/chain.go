package oracle

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ChainOracle runs a compiled eino chain: a two-message chat template feeding
// a chat model.
type ChainOracle struct {
	name     string
	runnable compose.Runnable[map[string]any, *schema.Message]
	handler  callbacks.Handler
}

func NewChainOracle(ctx context.Context, name string, cm model.ChatModel) (*ChainOracle, error) {
	if cm == nil {
		return nil, fmt.Errorf("%w: nil chat model", ErrOracleUnavailable)
	}
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(cm)

	r, err := chain.Compile(ctx, compose.WithGraphName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to compile oracle chain %s: %w", name, err)
	}
	return &ChainOracle{name: name, runnable: r, handler: NewLogHandler()}, nil
}

func (o *ChainOracle) Name() string { return o.name }

func (o *ChainOracle) Invoke(ctx context.Context, system, prompt string) (string, error) {
	msg, err := o.runnable.Invoke(ctx, map[string]any{
		"system": system,
		"prompt": prompt,
	}, compose.WithCallbacks(o.handler))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, o.name, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: %s returned no message", ErrOracleUnavailable, o.name)
	}
	return msg.Content, nil
}
