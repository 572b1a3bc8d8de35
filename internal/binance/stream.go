package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const markPriceStream = "/ws/!markPrice@arr@1s"

type streamRate struct {
	rate float64
	at   time.Time
}

// FundingStream keeps the latest funding rate per symbol from the all-market
// mark price stream, reconnecting after read failures.
type FundingStream struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger
	now            func() time.Time

	mu    sync.RWMutex
	rates map[string]streamRate
}

func NewFundingStream(baseURL string, reconnectDelay time.Duration, log *zap.Logger) *FundingStream {
	if log == nil {
		log = zap.NewNop()
	}
	url := strings.TrimRight(baseURL, "/")
	if !strings.Contains(url, "/ws/") {
		url += markPriceStream
	}
	return &FundingStream{
		url:            url,
		reconnectDelay: reconnectDelay,
		log:            log,
		now:            time.Now,
		rates:          make(map[string]streamRate),
	}
}

// Rate returns the cached rate for symbol when it is younger than maxAge.
func (s *FundingStream) Rate(symbol string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rates[symbol]
	if !ok {
		return 0, false
	}
	if maxAge > 0 && s.now().Sub(entry.at) > maxAge {
		return 0, false
	}
	return entry.rate, true
}

func (s *FundingStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logSessionError(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *FundingStream) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(1 << 22)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

type markPriceEvent struct {
	Event       string `json:"e"`
	Symbol      string `json:"s"`
	FundingRate number `json:"r"`
	EventTime   int64  `json:"E"`
}

func (s *FundingStream) handle(data []byte) {
	var events []markPriceEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single markPriceEvent
		if err := json.Unmarshal(data, &single); err != nil {
			s.log.Debug("ignoring unparseable stream message", zap.Error(err))
			return
		}
		events = []markPriceEvent{single}
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.Symbol == "" {
			continue
		}
		s.rates[ev.Symbol] = streamRate{rate: float64(ev.FundingRate), at: now}
	}
}

func (s *FundingStream) logSessionError(err error) {
	if err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Info("funding stream closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	s.log.Warn("funding stream ended", zap.Error(err))
}
