package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"funding-carry-bot/internal/gateway"
)

const BotStateKey = "bot:state"

// DailyWindow is the rolling window for the daily trade counter, measured from
// the last reset rather than wall-clock midnight.
const DailyWindow = 24 * time.Hour

var (
	ErrPositionExists = errors.New("position already open for symbol")
	ErrCorruptState   = errors.New("corrupt bot state")
)

type Position struct {
	Symbol         string       `json:"symbol"`
	SpotSize       float64      `json:"spot_size"`
	FuturesSize    float64      `json:"futures_size"`
	EntryRate      float64      `json:"entry_rate"`
	EntryTime      time.Time    `json:"entry_time"`
	SpotOrder      gateway.Fill `json:"spot_order"`
	FuturesOrder   gateway.Fill `json:"futures_order"`
	ExpectedProfit float64      `json:"expected_profit"`
}

func (p Position) Held(now time.Time) time.Duration {
	if p.EntryTime.IsZero() || now.Before(p.EntryTime) {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// BotState is the engine-owned ledger plus the daily trade counter.
type BotState struct {
	ActivePositions  map[string]Position `json:"active_positions"`
	DailyTrades      int                 `json:"daily_trades"`
	DailyTradesReset time.Time           `json:"daily_trades_reset"`
}

func NewBotState(now time.Time) *BotState {
	return &BotState{
		ActivePositions:  make(map[string]Position),
		DailyTradesReset: now,
	}
}

func (s *BotState) Has(symbol string) bool {
	_, ok := s.ActivePositions[symbol]
	return ok
}

func (s *BotState) Get(symbol string) (Position, bool) {
	pos, ok := s.ActivePositions[symbol]
	return pos, ok
}

func (s *BotState) Len() int {
	return len(s.ActivePositions)
}

// Open inserts a position. At most one position per symbol may exist.
func (s *BotState) Open(pos Position) error {
	if strings.TrimSpace(pos.Symbol) == "" {
		return errors.New("position symbol is required")
	}
	if s.ActivePositions == nil {
		s.ActivePositions = make(map[string]Position)
	}
	if _, exists := s.ActivePositions[pos.Symbol]; exists {
		return fmt.Errorf("%s: %w", pos.Symbol, ErrPositionExists)
	}
	s.ActivePositions[pos.Symbol] = pos
	return nil
}

// Update replaces an existing position, e.g. after one leg was closed.
func (s *BotState) Update(pos Position) bool {
	if _, ok := s.ActivePositions[pos.Symbol]; !ok {
		return false
	}
	s.ActivePositions[pos.Symbol] = pos
	return true
}

func (s *BotState) Remove(symbol string) bool {
	if _, ok := s.ActivePositions[symbol]; !ok {
		return false
	}
	delete(s.ActivePositions, symbol)
	return true
}

// Symbols returns ledger keys in a stable order.
func (s *BotState) Symbols() []string {
	out := make([]string, 0, len(s.ActivePositions))
	for symbol := range s.ActivePositions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (s *BotState) IncrementDailyTrades() {
	s.DailyTrades++
}

// ResetDailyIfElapsed zeroes the counter once a full window has passed since
// the last reset and reports whether it did.
func (s *BotState) ResetDailyIfElapsed(now time.Time) bool {
	if now.Sub(s.DailyTradesReset) < DailyWindow {
		return false
	}
	s.DailyTrades = 0
	s.DailyTradesReset = now
	return true
}

func Encode(s *BotState) ([]byte, error) {
	if s == nil {
		return nil, errors.New("bot state is nil")
	}
	out := *s
	if out.ActivePositions == nil {
		out.ActivePositions = map[string]Position{}
	}
	return json.MarshalIndent(out, "", "  ")
}

func Decode(data []byte, now time.Time) (*BotState, error) {
	var s BotState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if s.ActivePositions == nil {
		s.ActivePositions = make(map[string]Position)
	}
	for symbol, pos := range s.ActivePositions {
		if pos.Symbol == "" {
			pos.Symbol = symbol
			s.ActivePositions[symbol] = pos
		}
	}
	if s.DailyTradesReset.IsZero() {
		s.DailyTradesReset = now
	}
	if s.DailyTrades < 0 {
		s.DailyTrades = 0
	}
	return &s, nil
}

// LoadBotState reads the snapshot. A missing snapshot yields an empty state;
// a malformed one yields an empty state together with ErrCorruptState.
func LoadBotState(ctx context.Context, store Store, now time.Time) (*BotState, error) {
	if store == nil {
		return NewBotState(now), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, BotStateKey)
	if err != nil {
		return NewBotState(now), err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return NewBotState(now), nil
	}
	s, err := Decode([]byte(raw), now)
	if err != nil {
		return NewBotState(now), err
	}
	return s, nil
}

func SaveBotState(ctx context.Context, store Store, s *BotState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := Encode(s)
	if err != nil {
		return err
	}
	return store.Set(ctx, BotStateKey, string(payload))
}
