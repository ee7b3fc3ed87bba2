package notify

import "context"

// NopSender discards pushes. Used when push delivery is disabled.
type NopSender struct{}

// Send does nothing.
func (NopSender) Send(ctx context.Context, token, title, body string) error {
	return nil
}
