// Package expo provides the Sender for the Expo push gateway.
package expo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdk "github.com/oliveroneill/exponent-server-sdk-golang/sdk"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

const (
	// DefaultEndpoint is Expo's bulk send API.
	DefaultEndpoint = "https://exp.host/--/api/v2/push/send"
	// MaxBatchSize is the documented per-request ceiling of the Expo API.
	MaxBatchSize = 100

	sendPath = "/push/send"
)

// Config holds the connection settings for the Expo gateway.
type Config struct {
	Endpoint string
	// AccessToken is only needed when "enhanced push security" is enabled on the Expo project.
	AccessToken string
	Timeout     time.Duration
}

type Sender struct {
	host        string
	apiURL      string
	accessToken string
	timeout     time.Duration
	transport   http.RoundTripper
	logger      *slog.Logger
}

func NewSender(cfg Config, logger *slog.Logger) *Sender {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	host, apiURL := splitEndpoint(endpoint)
	return &Sender{
		host:        host,
		apiURL:      apiURL,
		accessToken: cfg.AccessToken,
		timeout:     timeout,
		transport:   http.DefaultTransport,
		logger:      logger.With("component", "ExpoSender"),
	}
}

// splitEndpoint turns the full send URL into the host and API prefix the
// push client expects; the client appends /push/send itself. Empty parts
// fall back to the client's defaults.
func splitEndpoint(endpoint string) (string, string) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil || u.Host == "" {
		return "", ""
	}
	host := u.Scheme + "://" + u.Host
	apiURL := strings.TrimSuffix(u.Path, sendPath)
	return host, apiURL
}

func (s *Sender) MaxBatchSize() int { return MaxBatchSize }

// Send posts the batch to Expo in a single request. The batch is all-or-nothing:
// a non-2xx status or an "errors" body fails every notification in it.
// Tokens that are not Expo push tokens are never sent and are not counted.
// Ticket errors are logged but not counted.
func (s *Sender) Send(ctx context.Context, batch []dispatch.Payload) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if len(batch) > MaxBatchSize {
		return 0, fmt.Errorf("batch of %d exceeds expo limit of %d", len(batch), MaxBatchSize)
	}

	messages := make([]sdk.PushMessage, 0, len(batch))
	for _, p := range batch {
		token, err := sdk.NewExponentPushToken(p.To)
		if err != nil {
			s.logger.Warn("Destination is not an Expo push token", "err", err)
			continue
		}
		messages = append(messages, sdk.PushMessage{
			To:    []sdk.ExponentPushToken{token},
			Title: p.Title,
			Body:  p.Body,
			Data:  p.Data,
		})
	}
	if len(messages) == 0 {
		return 0, nil
	}

	client := sdk.NewPushClient(&sdk.ClientConfig{
		Host:        s.host,
		APIURL:      s.apiURL,
		AccessToken: s.accessToken,
		HTTPClient: &http.Client{
			Timeout:   s.timeout,
			Transport: contextTransport{ctx: ctx, next: s.transport},
		},
	})

	tickets, err := client.PublishMultiple(messages)
	if err != nil {
		s.logger.Error("Expo rejected batch", "batch_size", len(batch), "err", err)
		return 0, fmt.Errorf("expo send failed: %w", err)
	}

	ticketErrors := 0
	for i := range tickets {
		if err := tickets[i].ValidateResponse(); err != nil {
			ticketErrors++
			s.logger.Debug("Expo ticket error", "err", err)
		}
	}
	if ticketErrors > 0 {
		s.logger.Warn("Expo returned ticket errors", "count", ticketErrors, "batch_size", len(batch))
	}

	return len(messages), nil
}

// contextTransport binds the caller's context to requests made by the push
// client, which has no context-aware API of its own.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}
