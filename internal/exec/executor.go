package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"funding-carry-bot/internal/gateway"
	"funding-carry-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	fillKeyPrefix  = "fill:"
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
)

type Venue interface {
	CreateSpotOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error)
	CreateFuturesOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error)
}

// Executor places orders at most once per caller-supplied client order id.
// Those fills are cached in memory and in the store so a replayed request
// returns the first fill. Requests without an id get a fresh one and are not
// cached.
type Executor struct {
	venue Venue
	store state.Store
	log   *zap.Logger

	backoff time.Duration

	mu    sync.Mutex
	cache map[string]gateway.Fill
}

func New(venue Venue, store state.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		venue:   venue,
		store:   store,
		log:     log,
		backoff: initialBackoff,
		cache:   make(map[string]gateway.Fill),
	}
}

// SetBackoff overrides the initial retry delay.
func (e *Executor) SetBackoff(d time.Duration) {
	if d > 0 {
		e.backoff = d
	}
}

func (e *Executor) Spot(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	return e.place(ctx, req, e.venue.CreateSpotOrder)
}

func (e *Executor) Futures(ctx context.Context, req gateway.OrderRequest) (gateway.Fill, error) {
	return e.place(ctx, req, e.venue.CreateFuturesOrder)
}

func (e *Executor) place(ctx context.Context, req gateway.OrderRequest, submit func(context.Context, gateway.OrderRequest) (gateway.Fill, error)) (gateway.Fill, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
		return e.submit(ctx, req, submit)
	}
	cacheKey := fillKeyPrefix + req.ClientOrderID
	if fill, ok, err := e.lookup(ctx, cacheKey); err != nil {
		return gateway.Fill{}, err
	} else if ok {
		return fill, nil
	}

	fill, err := e.submit(ctx, req, submit)
	if err != nil {
		return gateway.Fill{}, err
	}
	e.remember(ctx, cacheKey, fill)
	return fill, nil
}

func (e *Executor) submit(ctx context.Context, req gateway.OrderRequest, submit func(context.Context, gateway.OrderRequest) (gateway.Fill, error)) (gateway.Fill, error) {
	var fill gateway.Fill
	err := e.retry(ctx, func() error {
		var err error
		fill, err = submit(ctx, req)
		return err
	})
	if err != nil {
		return gateway.Fill{}, err
	}
	if fill.ClientOrderID == "" {
		fill.ClientOrderID = req.ClientOrderID
	}
	return fill, nil
}

func (e *Executor) lookup(ctx context.Context, key string) (gateway.Fill, bool, error) {
	e.mu.Lock()
	if fill, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return fill, true, nil
	}
	e.mu.Unlock()
	if e.store == nil {
		return gateway.Fill{}, false, nil
	}
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok {
		return gateway.Fill{}, false, err
	}
	var fill gateway.Fill
	if err := json.Unmarshal([]byte(raw), &fill); err != nil {
		e.log.Warn("discarding unreadable cached fill", zap.String("key", key), zap.Error(err))
		return gateway.Fill{}, false, nil
	}
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
	return fill, true, nil
}

func (e *Executor) remember(ctx context.Context, key string, fill gateway.Fill) {
	e.mu.Lock()
	e.cache[key] = fill
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(fill)
	if err != nil {
		e.log.Warn("failed to encode fill", zap.Error(err))
		return
	}
	if err := e.store.Set(ctx, key, string(payload)); err != nil {
		e.log.Warn("failed to persist fill", zap.Error(err))
	}
}

// retry repeats fn on transient failures. Classified venue rejections are
// returned on the first attempt.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if gateway.IsOrderRejection(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("retry failed: %w", err)
		}
		e.log.Warn("order attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// NewClientOrderID returns a venue-safe client order id (36 chars max).
func NewClientOrderID() string {
	return uuid.NewString()
}
