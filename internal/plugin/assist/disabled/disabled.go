package disabled

import (
	"context"
	"fmt"

	"github.com/strandhq/strand/internal/registry/assist"
)

func init() {
	assist.Register(assist.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (assist.Assistant, error) {
			return &disabledAssistant{}, nil
		},
	})
}

type disabledAssistant struct{}

func (d *disabledAssistant) Summarize(_ context.Context, _ assist.SummarizeRequest) (*assist.SummarizeResult, error) {
	return nil, fmt.Errorf("assistant is disabled")
}

func (d *disabledAssistant) SuggestTitle(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("assistant is disabled")
}

var _ assist.Assistant = (*disabledAssistant)(nil)
