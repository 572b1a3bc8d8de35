package binance

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"funding-carry-bot/internal/gateway"
)

// number decodes the venue's decimal strings as well as bare JSON numbers.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type depthResponse struct {
	Bids [][2]number `json:"bids"`
	Asks [][2]number `json:"asks"`
}

func (d depthResponse) book() gateway.OrderBook {
	return gateway.OrderBook{Bids: levels(d.Bids), Asks: levels(d.Asks)}
}

func levels(raw [][2]number) []gateway.Level {
	out := make([]gateway.Level, 0, len(raw))
	for _, lvl := range raw {
		price, qty := float64(lvl[0]), float64(lvl[1])
		if price <= 0 {
			continue
		}
		out = append(out, gateway.Level{Price: price, Quantity: qty})
	}
	return out
}

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       number `json:"markPrice"`
	LastFundingRate number `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type fundingRateEntry struct {
	Symbol      string `json:"symbol"`
	FundingRate number `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

func observations(entries []fundingRateEntry) []gateway.FundingObservation {
	out := make([]gateway.FundingObservation, 0, len(entries))
	for _, e := range entries {
		out = append(out, gateway.FundingObservation{
			Rate: float64(e.FundingRate),
			Time: time.UnixMilli(e.FundingTime).UTC(),
		})
	}
	return out
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   number `json:"free"`
		Locked number `json:"locked"`
	} `json:"balances"`
}

func (a accountResponse) asset(name string) (free, locked float64, ok bool) {
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, name) {
			return float64(b.Free), float64(b.Locked), true
		}
	}
	return 0, 0, false
}

type positionRiskEntry struct {
	Symbol      string `json:"symbol"`
	PositionAmt number `json:"positionAmt"`
	EntryPrice  number `json:"entryPrice"`
}

type spotOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQty         number `json:"executedQty"`
	CummulativeQuoteQty number `json:"cummulativeQuoteQty"`
	Side                string `json:"side"`
	Fills               []struct {
		Price           number `json:"price"`
		Qty             number `json:"qty"`
		Commission      number `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// fill converts the FULL order response. Price is the quantity-weighted fill
// price; commissions paid in the base asset are converted to quote.
func (r spotOrderResponse) fill(req gateway.OrderRequest, quote string, feeRate float64) gateway.Fill {
	amount := float64(r.ExecutedQty)
	var notional, qty, fee float64
	for _, f := range r.Fills {
		p, q := float64(f.Price), float64(f.Qty)
		notional += p * q
		qty += q
		switch {
		case strings.EqualFold(f.CommissionAsset, quote):
			fee += float64(f.Commission)
		default:
			fee += float64(f.Commission) * p
		}
	}
	price := 0.0
	if qty > 0 {
		price = notional / qty
	} else if amount > 0 {
		price = float64(r.CummulativeQuoteQty) / amount
	}
	if amount == 0 {
		amount = qty
	}
	if len(r.Fills) == 0 {
		fee = amount * price * feeRate
	}
	return gateway.Fill{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: firstNonEmpty(r.ClientOrderID, req.ClientOrderID),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Amount:        amount,
		Price:         price,
		Fee:           fee,
		Time:          msTime(r.TransactTime),
	}
}

type futuresOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	AvgPrice      number `json:"avgPrice"`
	ExecutedQty   number `json:"executedQty"`
	CumQuote      number `json:"cumQuote"`
	UpdateTime    int64  `json:"updateTime"`
}

// fill converts a futures order result. The venue omits commission, so the fee
// is estimated at the configured taker rate.
func (r futuresOrderResponse) fill(req gateway.OrderRequest, feeRate float64) gateway.Fill {
	amount := float64(r.ExecutedQty)
	price := float64(r.AvgPrice)
	if price == 0 && amount > 0 {
		price = float64(r.CumQuote) / amount
	}
	return gateway.Fill{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: firstNonEmpty(r.ClientOrderID, req.ClientOrderID),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Amount:        amount,
		Price:         price,
		Fee:           amount * price * feeRate,
		Time:          msTime(r.UpdateTime),
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   number `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (e exchangeInfoResponse) stepSizes() map[string]float64 {
	out := make(map[string]float64, len(e.Symbols))
	for _, s := range e.Symbols {
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" && f.StepSize > 0 {
				out[s.Symbol] = float64(f.StepSize)
			}
		}
	}
	return out
}

// roundToStep floors amount to a multiple of step.
func roundToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	steps := math.Floor(amount/step + 1e-9)
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(steps*step, 'f', stepDecimals(step), 64), 64)
	if err != nil {
		return steps * step
	}
	return rounded
}

func stepDecimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	return int(math.Round(-math.Log10(step)))
}

func formatQuantity(v, step float64) string {
	if step > 0 {
		return strconv.FormatFloat(v, 'f', stepDecimals(step), 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
