package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cleaner-dispatch/internal/common/config"
	apperrors "cleaner-dispatch/internal/common/errors"
	apphttp "cleaner-dispatch/internal/common/http"
	"cleaner-dispatch/internal/common/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const gatewayService = "transfer-gateway"

// TransferRequest moves AmountCents to a contractor's payable account.
type TransferRequest struct {
	Destination    string `json:"destination"`
	AmountCents    int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

type transferResponse struct {
	ID string `json:"id"`
}

// GatewayClient calls the payment transfer API with retries and a circuit breaker.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	http       *apphttp.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     logger.Logger
}

func NewGatewayClient(cfg config.GatewayConfig, log logger.Logger) *GatewayClient {
	g := &GatewayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       apphttp.NewClient(config.GetDuration(cfg.Timeout)),
		maxRetries: uint64(cfg.MaxRetries),
		logger:     log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        gatewayService,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejected request means the gateway is up.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
	return g
}

// CreateTransfer returns the gateway's transfer id. Every failure is an
// EXTERNAL_SERVICE_ERROR.
func (g *GatewayClient) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.AmountCents <= 0 || req.Destination == "" {
		return "", apperrors.NewValidationError("transfer requires a destination and a positive amount")
	}

	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	var transferID string
	operation := func() error {
		out, err := g.breaker.Execute(func() (interface{}, error) {
			var resp transferResponse
			if err := g.http.PostJSON(ctx, g.baseURL+"/v1/transfers", headers, req, &resp); err != nil {
				return nil, err
			}
			return resp.ID, nil
		})
		if err != nil {
			if isClientError(err) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}

		transferID, _ = out.(string)
		if transferID == "" {
			return backoff.Permanent(errors.New("gateway returned an empty transfer id"))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.maxRetries), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		g.logger.Warn("transfer attempt failed, retrying", map[string]interface{}{
			"idempotencyKey": req.IdempotencyKey,
			"retryIn":        wait.String(),
			"error":          err,
		})
	})
	if err != nil {
		return "", apperrors.NewExternalServiceError(gatewayService, fmt.Errorf("create transfer %s: %w", req.IdempotencyKey, err))
	}
	return transferID, nil
}

// isClientError reports a 4xx other than 429; these are never retried.
func isClientError(err error) bool {
	var se *apphttp.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
}
