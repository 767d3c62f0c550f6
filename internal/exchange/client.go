// client.go provides the shared REST plumbing every Provider implementation
// builds on: a resty client with rate limiting, HMAC signing, and a circuit
// breaker categorised by failure kind. Generalized from the teacher's
// Polymarket-specific Client into a dialect-agnostic base that krbroker and
// cryptospot each wrap with their own endpoint conventions — the concrete
// wire formats stay a per-provider concern, per spec §4.2.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// RestClient is embedded by each concrete Provider. It owns no domain
// semantics; callers pass the rate-limit bucket and failure-kind category
// to use, and a result pointer to decode the JSON response into.
type RestClient struct {
	HTTP    *resty.Client
	Signer  *Signer
	RL      *RateLimiter
	Breaker *CircuitBreaker
	DryRun  bool
	Logger  *slog.Logger
}

func NewRestClient(baseURL string, creds Credentials, dryRun bool, logger *slog.Logger) *RestClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &RestClient{
		HTTP:    httpClient,
		Signer:  NewSigner(creds),
		RL:      NewRateLimiter(),
		Breaker: NewCircuitBreaker(5, 30*time.Second),
		DryRun:  dryRun,
		Logger:  logger,
	}
}

// Do issues one signed, rate-limited, circuit-broken HTTP call and decodes
// the JSON response into result (nil to discard the body). The HTTP
// response status is classified into the taxonomy of spec §7: 5xx, 429 and
// connection failures become ErrProviderRetriable (the caller's WithRetry
// wrapper decides whether to retry), 401 becomes ErrUnauthorized, other
// 4xx become ErrInvalidOrder.
func (c *RestClient) Do(ctx context.Context, bucket *TokenBucket, kind failureKind, method, path string, body, result any) error {
	if c.DryRun && method != http.MethodGet {
		c.Logger.Info("dry-run: request not sent", "method", method, "path", path)
		return nil
	}
	return c.Breaker.Execute(ctx, kind, func(ctx context.Context) error {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}

		req := c.HTTP.R().SetContext(ctx)
		if body != nil {
			req = req.SetBody(body)
		}
		req = req.SetHeaders(c.Signer.Headers(method, path, ""))
		if result != nil {
			req = req.SetResult(result)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", domain.ErrProviderRetriable, method, path, err)
		}

		switch {
		case resp.StatusCode() == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s %s", domain.ErrUnauthorized, method, path)
		case resp.StatusCode() == http.StatusTooManyRequests:
			return fmt.Errorf("%w: rate limited on %s %s", domain.ErrProviderRetriable, method, path)
		case resp.StatusCode() >= 500:
			return fmt.Errorf("%w: %s %s status %d", domain.ErrProviderRetriable, method, path, resp.StatusCode())
		case resp.StatusCode() >= 400:
			return fmt.Errorf("%w: %s %s status %d: %s", domain.ErrInvalidOrder, method, path, resp.StatusCode(), resp.String())
		}
		return nil
	})
}

// ClassifyFailureKind maps a wrapped error from Do to a circuit-breaker
// category, used by callers who retry across multiple failure kinds.
func ClassifyFailureKind(err error) failureKind {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return failureService
	case errors.Is(err, domain.ErrProviderRetriable):
		return failureNetwork
	default:
		return failureService
	}
}
