package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/metrics"
)

// Caller routes a request to the primary provider and falls back to the
// secondary on transient failures (rate limits, timeouts, 5xx, network).
type Caller struct {
	Primary        Client
	Secondary      Client
	PrimaryModel   string
	SecondaryModel string
	Timeout        time.Duration
}

// Do tries the primary provider, then the secondary if the failure was
// transient. Returns the provider name that answered.
func (c *Caller) Do(ctx context.Context, req Request) (Response, string, error) {
	call := func(client Client, model string) (Response, error) {
		r := req
		r.Model = model
		cctx := ctx
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		start := time.Now()
		resp, err := client.Do(cctx, r)
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.ObserveProvider(client.Name(), model, result, time.Since(start))
		return resp, err
	}

	resp, err := call(c.Primary, c.PrimaryModel)
	if err == nil {
		return resp, c.Primary.Name(), nil
	}

	if c.Secondary == nil || !isTransient(err) {
		return Response{}, c.Primary.Name(), err
	}

	log.Warn().Err(err).
		Str("primary", c.Primary.Name()).
		Str("secondary", c.Secondary.Name()).
		Msg("primary provider failed, trying secondary")

	resp, err2 := call(c.Secondary, c.SecondaryModel)
	if err2 == nil {
		return resp, c.Secondary.Name(), nil
	}
	return Response{}, c.Secondary.Name(), err2
}

// isTransient reports whether an error is worth retrying on another provider.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) || IsContentRefused(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status 5",
		"connection refused",
		"connection reset",
		"timeout",
		"network",
		"eof",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
