package models

import (
	"math"
	"strings"
	"time"
)

// DisplayMarket is a UI-ready view of a stored market idea. It is derived
// on read and never persisted.
type DisplayMarket struct {
	ID                 string     `json:"id"`
	Slug               string     `json:"slug"`
	Title              string     `json:"title"`
	Subtitle           string     `json:"subtitle,omitempty"`
	Category           string     `json:"category"`
	YesPrice           float64    `json:"yesPrice"`
	NoPrice            float64    `json:"noPrice"`
	Volume24h          int64      `json:"volume24h"`
	ClosesAt           time.Time  `json:"closesAt"`
	IsActive           bool       `json:"isActive"`
	IsLive             bool       `json:"isLive"`
	IsNew              bool       `json:"isNew"`
	Type               string     `json:"type"`
	OptionLabels       []string   `json:"optionLabels,omitempty"`
	Topics             []string   `json:"topics"`
	Description        string     `json:"description"`
	ResolutionCriteria string     `json:"resolutionCriteria"`
	MarketType         MarketType `json:"marketType"`
	Outcomes           []Outcome  `json:"outcomes"`
	Evidence           []Evidence `json:"evidence"`
}

const (
	displayTypeYesNo  = "yesno"
	displayTypeTwoWay = "twoway"

	syntheticVolumeFloor = 1000
	closeTimeFallback    = 7 * 24 * time.Hour
	newWithin            = 24 * time.Hour
)

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// NormalizeProbabilities clamps negative probabilities to zero and rescales
// the outcomes so they sum to exactly 1. A non-positive total resolves to an
// equal split.
func NormalizeProbabilities(outcomes []Outcome) []Outcome {
	safe := make([]Outcome, len(outcomes))
	sum := 0.0
	for i, outcome := range outcomes {
		safe[i] = outcome
		safe[i].InitialProbability = math.Max(0, outcome.InitialProbability)
		sum += safe[i].InitialProbability
	}

	if sum <= 0 {
		equal := 1.0 / float64(len(safe))
		for i := range safe {
			safe[i].InitialProbability = equal
		}
		return safe
	}

	for i := range safe {
		safe[i].InitialProbability = round4(safe[i].InitialProbability / sum)
	}
	return safe
}

// deriveYesNoPrices reduces any market to a binary yes/no price pair. YES_NO
// markets use the outcome labeled "yes" (first outcome as fallback); other
// types use the first two outcomes' share of their own sum.
func deriveYesNoPrices(market GeneratedMarketIdea) (yes, no float64) {
	normalized := NormalizeProbabilities(market.Outcomes)

	if market.MarketType == MarketTypeYesNo {
		yes = 0.5
		if len(normalized) > 0 {
			yes = normalized[0].InitialProbability
			for _, outcome := range normalized {
				if strings.EqualFold(outcome.Label, "yes") {
					yes = outcome.InitialProbability
					break
				}
			}
		}
		return yes, round4(1 - yes)
	}

	first := 0.5
	if len(normalized) > 0 {
		first = normalized[0].InitialProbability
	}
	second := round4(1 - first)
	if len(normalized) > 1 {
		second = normalized[1].InitialProbability
	}

	total := first + second
	if total == 0 {
		total = 1
	}
	return round4(first / total), round4(second / total)
}

func deriveOptionLabels(market GeneratedMarketIdea) []string {
	if market.MarketType == MarketTypeYesNo {
		return nil
	}

	first, second := "Option A", "Option B"
	if len(market.Outcomes) > 0 && market.Outcomes[0].Label != "" {
		first = market.Outcomes[0].Label
	}
	if len(market.Outcomes) > 1 && market.Outcomes[1].Label != "" {
		second = market.Outcomes[1].Label
	}
	return []string{first, second}
}

// ToDisplayMarket derives the presentation view of a market. The synthetic
// volume is a deterministic placeholder computed from the idea's scores, not
// a real market signal.
func ToDisplayMarket(market GeneratedMarketIdea, uploadedAt time.Time) DisplayMarket {
	yesPrice, noPrice := deriveYesNoPrices(market)

	closesAt := uploadedAt.Add(closeTimeFallback)
	if market.CloseTimeGuess != nil {
		if parsed, err := ParseCloseTime(*market.CloseTimeGuess); err == nil {
			closesAt = parsed
		}
	}

	displayType := displayTypeTwoWay
	if market.MarketType == MarketTypeYesNo {
		displayType = displayTypeYesNo
	}

	return DisplayMarket{
		ID:                 market.ID,
		Slug:               market.Slug,
		Title:              market.Title,
		Subtitle:           market.Description,
		Category:           string(market.Category),
		YesPrice:           yesPrice,
		NoPrice:            noPrice,
		Volume24h:          syntheticVolume(market.Scores),
		ClosesAt:           closesAt,
		IsActive:           true,
		IsLive:             false,
		IsNew:              time.Since(uploadedAt) < newWithin,
		Type:               displayType,
		OptionLabels:       deriveOptionLabels(market),
		Topics:             []string{string(market.Category)},
		Description:        market.Description,
		ResolutionCriteria: market.ResolutionCriteria,
		MarketType:         market.MarketType,
		Outcomes:           NormalizeProbabilities(market.Outcomes),
		Evidence:           market.Evidence,
	}
}

func syntheticVolume(scores Scores) int64 {
	volume := int64(math.Round(scores.Sum() * 100000))
	if volume < syntheticVolumeFloor {
		return syntheticVolumeFloor
	}
	return volume
}
