package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider chains generation providers in preference order. A turn
// only fails once every provider in the chain has failed, and the combined
// error stays classifiable: callers can still errors.Is against ErrTimeout
// and ErrUnavailable to pick the right degradation response.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider builds a chain from the given providers. At least one
// is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		providers: providers,
		logger:    logger,
	}
}

// SendMessage tries each provider in order and returns the first successful
// response. When the whole chain fails, the error wraps ErrTimeout if every
// provider timed out, otherwise ErrUnavailable.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var errs []error
	for i, p := range f.providers {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "provider fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		f.logger.WarnContext(ctx, "provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("attempt", i+1),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return nil, fmt.Errorf("%w: all %d providers failed: %w",
		classifyChain(errs), len(f.providers), errors.Join(errs...))
}

// classifyChain reduces the chain's failures to one taxonomy sentinel.
// Only an all-timeout chain counts as a timeout; any other mix means the
// generation dependency is unavailable.
func classifyChain(errs []error) error {
	for _, err := range errs {
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return ErrUnavailable
		}
	}
	return ErrTimeout
}

// Name identifies the chain by its primary provider.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}
