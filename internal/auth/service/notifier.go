package service

import (
	"context"
	"log/slog"

	"github.com/attendgrid/sessiond/pkg/slogx"
)

// Notifier delivers a second-factor code to the user out of band (email,
// SMS). The challenge flow never returns the code to the HTTP caller.
type Notifier interface {
	SendChallengeCode(ctx context.Context, userID, email, code string) error
}

// LogNotifier writes codes to the structured log. It is the development
// fallback when no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) SendChallengeCode(ctx context.Context, userID, email, code string) error {
	slogx.FromContext(ctx).Info("second-factor code issued",
		slog.String("user_id", userID),
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}
