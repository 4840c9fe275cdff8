package dispatch

import (
	"context"
	"log/slog"

	"github.com/trucktrack/alert-pipeline/internal/template"
)

// LogPushProvider writes push deliveries to the log instead of a push
// service. Used in development and in deployments where the real provider
// credentials are not configured; the attempt log still records every send.
type LogPushProvider struct{}

func (LogPushProvider) SendPush(_ context.Context, token string, content template.Rendered, data map[string]string) error {
	slog.Info("[PushProvider] Delivered (log only)",
		"token_suffix", tokenSuffix(token),
		"title", content.Title,
		"vehicle_id", data["vehicle_id"])
	return nil
}

// LogEmailProvider is the email counterpart of LogPushProvider.
type LogEmailProvider struct{}

func (LogEmailProvider) SendEmail(_ context.Context, address string, content template.Rendered) error {
	slog.Info("[EmailProvider] Delivered (log only)",
		"address", address,
		"subject", content.Title)
	return nil
}

// tokenSuffix keeps full device tokens out of the logs.
func tokenSuffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return "..." + token[len(token)-8:]
}
