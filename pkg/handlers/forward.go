package handlers

import (
	"context"
	"fmt"

	"wakit/pkg/webhook"
)

var forwardedCategories = []webhook.Category{
	webhook.CategoryText,
	webhook.CategoryAudio,
	webhook.CategoryImage,
	webhook.CategoryVideo,
	webhook.CategoryDocument,
	webhook.CategorySticker,
	webhook.CategoryReaction,
	webhook.CategoryConnectionUpdate,
}

// RegisterForward publishes every classified event to the broker.
func RegisterForward(reg *webhook.Registry, deps Deps) error {
	if err := requireDeps("forward", map[string]bool{"forwarder": deps.Forwarder != nil}); err != nil {
		return err
	}

	handler := func(ctx context.Context, ev webhook.Event) error {
		if err := deps.Forwarder.Forward(ctx, ev); err != nil {
			return fmt.Errorf("forward event: %w", err)
		}
		return nil
	}
	for _, category := range forwardedCategories {
		reg.Register(webhook.Select(category), "forward."+string(category), handler)
	}
	return nil
}
