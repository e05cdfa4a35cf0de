// internal/venue/hyperliquid/types.go
package hyperliquid

import "github.com/cryptocj/copy-trading-bot-sub002/internal/types"

// AccountState is a normalized clearinghouse snapshot.
type AccountState struct {
	Positions    []types.Position
	AccountValue float64
	Withdrawable float64
}

// OrderRequest describes one order for the exchange endpoint.
type OrderRequest struct {
	Symbol     string
	IsBuy      bool
	Size       float64
	Leverage   float64
	ReduceOnly bool
}

// clearinghouseState mirrors the info API response for
// {"type":"clearinghouseState"}. Numeric fields arrive as strings.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position rawPosition `json:"position"`
	} `json:"assetPositions"`
}

type rawPosition struct {
	Coin     string `json:"coin"`
	Szi      string `json:"szi"`
	EntryPx  string `json:"entryPx"`
	Leverage struct {
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	} `json:"leverage"`
	MarginUsed string `json:"marginUsed"`
}

// userFill is one entry of the {"type":"userFills"} response.
type userFill struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"`
	Hash string `json:"hash"`
}
