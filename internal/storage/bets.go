package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ortilabs/ortimarket/internal/models"
)

// usernamePattern is enforced before any filesystem path is derived from a
// caller-supplied username.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

var (
	// ErrInvalidUsername is returned when a username fails the pattern check.
	ErrInvalidUsername = errors.New("storage: invalid username format")

	// ErrInvalidAmount is returned when a bet amount is not a finite
	// positive number.
	ErrInvalidAmount = errors.New("storage: invalid amount")

	// ErrInvalidPrice is returned when a bet price is not finite or is
	// outside (0,1].
	ErrInvalidPrice = errors.New("storage: invalid price")
)

// maxBetsPerUser caps each user's history at the most recent entries.
const maxBetsPerUser = 1000

const defaultBetLimit = 200

// userBetsPath derives the bet file from a hash of the validated username,
// so the username itself never appears on disk.
func (s *Store) userBetsPath(username string) (string, error) {
	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	digest := sha256.Sum256([]byte(username))
	return filepath.Join(s.betsDir, hex.EncodeToString(digest[:])[:24]+".json"), nil
}

// SaveBetParams carries one simulated trade to persist.
type SaveBetParams struct {
	Username string
	ImportID string
	Market   models.GeneratedMarketIdea
	Side     string
	Action   models.TradeAction
	Amount   float64
	Price    float64
}

// SaveUserBet validates the trade, derives its implied probability and
// estimated payout, prepends it to the user's history, and rewrites the
// whole list capped at the most recent entries.
//
// Two concurrent writes to the same user's file are a read-modify-write
// race: last write wins and may drop an interleaved bet. Accepted
// limitation for play-money trading.
func (s *Store) SaveUserBet(params SaveBetParams) (*models.StoredBet, error) {
	betsPath, err := s.userBetsPath(params.Username)
	if err != nil {
		return nil, err
	}
	if !importIDPattern.MatchString(params.ImportID) {
		return nil, ErrInvalidImportID
	}

	if math.IsNaN(params.Amount) || math.IsInf(params.Amount, 0) || params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if math.IsNaN(params.Price) || math.IsInf(params.Price, 0) || params.Price <= 0 || params.Price > 1 {
		return nil, ErrInvalidPrice
	}

	amount := decimal.NewFromFloat(params.Amount).Round(2)
	price := decimal.NewFromFloat(params.Price).Round(4)
	implied := price.Mul(decimal.NewFromInt(100)).Round(2)
	payout := amount.Div(price).Round(2)

	bet := models.StoredBet{
		BetID:              uuid.NewString(),
		Username:           params.Username,
		ImportID:           params.ImportID,
		MarketID:           params.Market.ID,
		MarketSlug:         params.Market.Slug,
		MarketTitle:        params.Market.Title,
		MarketCategory:     string(params.Market.Category),
		MarketType:         params.Market.MarketType,
		Side:               params.Side,
		Action:             params.Action,
		Amount:             amount.InexactFloat64(),
		Price:              price.InexactFloat64(),
		ImpliedProbability: implied.InexactFloat64(),
		EstimatedPayout:    payout.InexactFloat64(),
		PlacedAt:           time.Now().UTC(),
	}

	existing := readUserBetsFile(betsPath)
	next := append([]models.StoredBet{bet}, existing...)
	if len(next) > maxBetsPerUser {
		next = next[:maxBetsPerUser]
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode bets: %w", err)
	}
	if err := os.WriteFile(betsPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write bets: %w", err)
	}

	return &bet, nil
}

// GetUserBets returns up to min(limit, 1000) of the user's most recent
// bets, newest first. A non-positive limit falls back to the default.
func (s *Store) GetUserBets(username string, limit int) ([]models.StoredBet, error) {
	betsPath, err := s.userBetsPath(username)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultBetLimit
	}
	if limit > maxBetsPerUser {
		limit = maxBetsPerUser
	}

	bets := readUserBetsFile(betsPath)
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].PlacedAt.After(bets[j].PlacedAt)
	})

	if len(bets) > limit {
		bets = bets[:limit]
	}
	return bets, nil
}

// readUserBetsFile loads a user's history, dropping entries that fail
// basic shape checks. A missing or unreadable file is an empty history.
func readUserBetsFile(path string) []models.StoredBet {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var parsed []models.StoredBet
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil
	}

	valid := parsed[:0]
	for _, bet := range parsed {
		if bet.BetID == "" || bet.Username == "" || bet.MarketSlug == "" || bet.PlacedAt.IsZero() {
			continue
		}
		valid = append(valid, bet)
	}
	return valid
}
