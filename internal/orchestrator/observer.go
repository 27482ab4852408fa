package orchestrator

import (
	"context"

	"github.com/haasonsaas/sidecar/pkg/model"
)

// Observer captures a fresh, redacted snapshot of the page identified by
// binding's (tab, document, navigation generation). The real implementation
// lives behind the extension bridge, out of this process's scope; local
// development and tests use internal/bridge/localbrowser's Playwright-backed
// Observer or a scripted fake.
type Observer interface {
	Observe(ctx context.Context, binding model.Binding) (*model.Observation, error)
}

// ObserverFunc adapts a plain function to an Observer.
type ObserverFunc func(ctx context.Context, binding model.Binding) (*model.Observation, error)

func (f ObserverFunc) Observe(ctx context.Context, binding model.Binding) (*model.Observation, error) {
	return f(ctx, binding)
}
