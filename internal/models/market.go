// Package models defines the core data structures for OrtiMarket.
package models

import "time"

// MarketType classifies how a generated market resolves.
type MarketType string

const (
	MarketTypeYesNo          MarketType = "YES_NO"
	MarketTypeNumeric        MarketType = "NUMERIC"
	MarketTypeMultipleChoice MarketType = "MULTIPLE_CHOICE"
)

// IsValid reports whether the market type is one of the known values.
func (t MarketType) IsValid() bool {
	switch t {
	case MarketTypeYesNo, MarketTypeNumeric, MarketTypeMultipleChoice:
		return true
	}
	return false
}

// Outcome is one tradeable outcome of a generated market.
type Outcome struct {
	Label              string  `json:"label"`
	InitialProbability float64 `json:"initial_probability"`
}

// Evidence is a quote from the chat supporting a market idea.
type Evidence struct {
	Quote      string  `json:"quote"`
	ApproxTime *string `json:"approx_time"`
}

// Scores rates a market idea on four axes, each in [0,1].
type Scores struct {
	Creativity float64 `json:"creativity"`
	Clarity    float64 `json:"clarity"`
	Evidence   float64 `json:"evidence"`
	Fun        float64 `json:"fun"`
}

// Sum returns the total of the four score components.
func (s Scores) Sum() float64 {
	return s.Creativity + s.Clarity + s.Evidence + s.Fun
}

// GeneratedMarketIdea is one prediction market proposed by the LLM.
// Instances are created only by the schema validator and are immutable
// once persisted inside a StoredImport.
type GeneratedMarketIdea struct {
	ID                 string     `json:"id"`
	Slug               string     `json:"slug"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Category           Category   `json:"category"`
	MarketType         MarketType `json:"market_type"`
	ResolutionCriteria string     `json:"resolution_criteria"`
	CloseTimeGuess     *string    `json:"close_time_guess"`
	Outcomes           []Outcome  `json:"outcomes"`
	Scores             Scores     `json:"scores"`
	Evidence           []Evidence `json:"evidence"`
}

// ParseCloseTime parses a close_time_guess value. RFC 3339 is canonical;
// zone-less and date-only timestamps are tolerated.
func ParseCloseTime(value string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// MarketsResponse is a validated batch of generated market ideas.
type MarketsResponse struct {
	MarketIdeas []GeneratedMarketIdea `json:"market_ideas"`
}

// CountByType tallies market ideas per market type.
func (r *MarketsResponse) CountByType() map[MarketType]int {
	counts := make(map[MarketType]int, 3)
	for _, idea := range r.MarketIdeas {
		counts[idea.MarketType]++
	}
	return counts
}

// StoredImport is one persisted upload-and-generate event. Records are
// written once at save time and never mutated by the application.
type StoredImport struct {
	ImportID         string                `json:"importId"`
	UploadedAt       time.Time             `json:"uploadedAt"`
	FileName         string                `json:"fileName"`
	FileSize         int64                 `json:"fileSize"`
	Model            string                `json:"model"`
	RawTextPath      string                `json:"rawTextPath"`
	Markets          []GeneratedMarketIdea `json:"markets"`
	ReasoningDetails []string              `json:"reasoning_details,omitempty"`
}

// TradeAction is the direction of a simulated trade.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "BUY"
	TradeActionSell TradeAction = "SELL"
)

// IsValid reports whether the action is BUY or SELL.
func (a TradeAction) IsValid() bool {
	return a == TradeActionBuy || a == TradeActionSell
}

// StoredBet is one simulated play-money trade.
type StoredBet struct {
	BetID              string      `json:"betId"`
	Username           string      `json:"username"`
	ImportID           string      `json:"importId"`
	MarketID           string      `json:"marketId"`
	MarketSlug         string      `json:"marketSlug"`
	MarketTitle        string      `json:"marketTitle"`
	MarketCategory     string      `json:"marketCategory"`
	MarketType         MarketType  `json:"marketType"`
	Side               string      `json:"side"`
	Action             TradeAction `json:"action"`
	Amount             float64     `json:"amount"`
	Price              float64     `json:"price"`
	ImpliedProbability float64     `json:"impliedProbability"`
	EstimatedPayout    float64     `json:"estimatedPayout"`
	PlacedAt           time.Time   `json:"placedAt"`
}
