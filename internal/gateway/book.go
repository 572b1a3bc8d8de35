package gateway

const (
	LiquidityDepth = 10

	makerBuyDiscount = 0.999
	makerSellPremium = 1.001
)

// HasLiquidity sums the top LiquidityDepth levels on each side and requires the
// thinner side to reach min.
func HasLiquidity(book OrderBook, min float64) bool {
	if book.Empty() {
		return false
	}
	bid := sumQuantity(book.Bids, LiquidityDepth)
	ask := sumQuantity(book.Asks, LiquidityDepth)
	thinner := bid
	if ask < thinner {
		thinner = ask
	}
	return thinner >= min
}

// MakerPrice sits just inside the touch: below the best ask for buys and above
// the best bid for sells.
func MakerPrice(book OrderBook, side Side) (float64, bool) {
	switch side {
	case Buy:
		if len(book.Asks) == 0 || book.Asks[0].Price <= 0 {
			return 0, false
		}
		return book.Asks[0].Price * makerBuyDiscount, true
	case Sell:
		if len(book.Bids) == 0 || book.Bids[0].Price <= 0 {
			return 0, false
		}
		return book.Bids[0].Price * makerSellPremium, true
	}
	return 0, false
}

func sumQuantity(levels []Level, depth int) float64 {
	if len(levels) > depth {
		levels = levels[:depth]
	}
	var total float64
	for _, level := range levels {
		total += level.Quantity
	}
	return total
}
