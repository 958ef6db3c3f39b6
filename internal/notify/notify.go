// ABOUTME: Notifier interface for out-of-band delivery of final assistant answers
// ABOUTME: Used when no live push connection exists for the requesting user

package notify

import "context"

// Notifier delivers an out-of-band message to an address. Delivery is
// at-least-once: the reconciler may re-send if its job is redelivered.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
	Name() string
}

// NopNotifier swallows notifications. Used when notify is disabled.
type NopNotifier struct{}

func (NopNotifier) Send(ctx context.Context, address, subject, body string) error { return nil }

func (NopNotifier) Name() string { return "nop" }
