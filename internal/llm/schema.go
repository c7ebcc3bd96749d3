package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ortilabs/ortimarket/internal/models"
)

// Batch constraints enforced on every generated response.
const (
	MinMarkets = 12
	MaxMarkets = 20

	MinYesNoMarkets          = 6
	MinNumericMarkets        = 4
	MinMultipleChoiceMarkets = 2

	MinOutcomes = 2
	MinEvidence = 1
	MaxEvidence = 3

	probabilitySumTolerance = 0.01
)

// SchemaIssue is one violated rule, located by a dotted path into the
// response document.
type SchemaIssue struct {
	Path    string
	Message string
}

// SchemaError reports every rule a response violated, not just the first.
// The full list makes repair prompts actionable.
type SchemaError struct {
	Issues []SchemaIssue
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Path + ": " + issue.Message
	}
	return "response failed schema validation: " + strings.Join(parts, "; ")
}

// ValidateResponse checks a parsed JSON document against the market batch
// schema and returns the typed batch, or a *SchemaError enumerating all
// violations.
func ValidateResponse(data []byte) (*models.MarketsResponse, error) {
	var resp models.MarketsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &SchemaError{Issues: []SchemaIssue{{
			Path:    "root",
			Message: "invalid document structure: " + err.Error(),
		}}}
	}

	issues := validateBatch(&resp)
	if len(issues) > 0 {
		return nil, &SchemaError{Issues: issues}
	}
	return &resp, nil
}

func validateBatch(resp *models.MarketsResponse) []SchemaIssue {
	var issues []SchemaIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, SchemaIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	total := len(resp.MarketIdeas)
	if total < MinMarkets || total > MaxMarkets {
		add("market_ideas", "expected %d-%d market ideas, got %d", MinMarkets, MaxMarkets, total)
	}

	seenSlugs := make(map[string]int, total)
	for i, idea := range resp.MarketIdeas {
		path := fmt.Sprintf("market_ideas.%d", i)
		issues = append(issues, validateIdea(path, idea)...)

		if idea.Slug != "" {
			if first, dup := seenSlugs[idea.Slug]; dup {
				add(path+".slug", "slug %q duplicates market_ideas.%d", idea.Slug, first)
			} else {
				seenSlugs[idea.Slug] = i
			}
		}
	}

	counts := resp.CountByType()
	if counts[models.MarketTypeYesNo] < MinYesNoMarkets {
		add("market_ideas", "at least %d YES_NO markets are required, got %d", MinYesNoMarkets, counts[models.MarketTypeYesNo])
	}
	if counts[models.MarketTypeNumeric] < MinNumericMarkets {
		add("market_ideas", "at least %d NUMERIC markets are required, got %d", MinNumericMarkets, counts[models.MarketTypeNumeric])
	}
	if counts[models.MarketTypeMultipleChoice] < MinMultipleChoiceMarkets {
		add("market_ideas", "at least %d MULTIPLE_CHOICE markets are required, got %d", MinMultipleChoiceMarkets, counts[models.MarketTypeMultipleChoice])
	}

	return issues
}

func validateIdea(path string, idea models.GeneratedMarketIdea) []SchemaIssue {
	var issues []SchemaIssue
	add := func(field, format string, args ...any) {
		issues = append(issues, SchemaIssue{Path: path + "." + field, Message: fmt.Sprintf(format, args...)})
	}

	required := []struct {
		field string
		value string
	}{
		{"id", idea.ID},
		{"slug", idea.Slug},
		{"title", idea.Title},
		{"description", idea.Description},
		{"resolution_criteria", idea.ResolutionCriteria},
	}
	for _, item := range required {
		if item.value == "" {
			add(item.field, "must be a non-empty string")
		}
	}

	if !idea.Category.IsValid() {
		add("category", "unknown category %q", idea.Category)
	}
	if !idea.MarketType.IsValid() {
		add("market_type", "unknown market type %q", idea.MarketType)
	}

	if len(idea.Outcomes) < MinOutcomes {
		add("outcomes", "at least %d outcomes are required, got %d", MinOutcomes, len(idea.Outcomes))
	}
	sum := 0.0
	for j, outcome := range idea.Outcomes {
		if outcome.Label == "" {
			add(fmt.Sprintf("outcomes.%d.label", j), "must be a non-empty string")
		}
		if outcome.InitialProbability < 0 || outcome.InitialProbability > 1 {
			add(fmt.Sprintf("outcomes.%d.initial_probability", j), "must be in [0,1], got %v", outcome.InitialProbability)
		}
		sum += outcome.InitialProbability
	}
	if len(idea.Outcomes) >= MinOutcomes && (sum < 1-probabilitySumTolerance || sum > 1+probabilitySumTolerance) {
		add("outcomes", "outcome probabilities must sum to 1 (got %.3f)", sum)
	}
	if idea.MarketType == models.MarketTypeYesNo && len(idea.Outcomes) != 2 {
		add("outcomes", "YES_NO markets must have exactly 2 outcomes, got %d", len(idea.Outcomes))
	}

	scores := []struct {
		field string
		value float64
	}{
		{"creativity", idea.Scores.Creativity},
		{"clarity", idea.Scores.Clarity},
		{"evidence", idea.Scores.Evidence},
		{"fun", idea.Scores.Fun},
	}
	for _, score := range scores {
		if score.value < 0 || score.value > 1 {
			add("scores."+score.field, "must be in [0,1], got %v", score.value)
		}
	}

	if len(idea.Evidence) < MinEvidence || len(idea.Evidence) > MaxEvidence {
		add("evidence", "expected %d-%d evidence entries, got %d", MinEvidence, MaxEvidence, len(idea.Evidence))
	}
	for j, evidence := range idea.Evidence {
		if evidence.Quote == "" {
			add(fmt.Sprintf("evidence.%d.quote", j), "must be a non-empty string")
		}
	}

	if idea.CloseTimeGuess == nil {
		add("close_time_guess", "must be non-null for all markets")
	} else if _, err := models.ParseCloseTime(*idea.CloseTimeGuess); err != nil {
		add("close_time_guess", "must be a valid ISO datetime string, got %q", *idea.CloseTimeGuess)
	}

	return issues
}
