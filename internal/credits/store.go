// Package credits keeps the user's credits and the marketplace listings.
package credits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/storage"
)

// StorageKey is the snapshot key both collections are persisted under.
const StorageKey = "carbonx-credits-storage"

type snapshot struct {
	UserCredits        []Credit `json:"user_credits"`
	MarketplaceCredits []Credit `json:"marketplace_credits"`
}

// Store holds userCredits and marketplaceCredits. A listed user credit is
// also present in the marketplace; both copies are updated together. Every
// mutation is saved before it becomes visible.
type Store struct {
	backend storage.Backend
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	user   []Credit
	market []Credit
}

// NewStore loads the persisted snapshot, seeding it when none exists.
func NewStore(ctx context.Context, backend storage.Backend, logger *zap.Logger) (*Store, error) {
	s := &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}

	var snap snapshot
	found, err := backend.Load(ctx, StorageKey, &snap)
	if err != nil {
		return nil, fmt.Errorf("load credits: %w", err)
	}
	if !found {
		snap = snapshot{
			UserCredits:        SeedUserCredits(),
			MarketplaceCredits: SeedMarketplaceCredits(),
		}
		if err := backend.Save(ctx, StorageKey, snap); err != nil {
			return nil, fmt.Errorf("seed credits: %w", err)
		}
		logger.Info("Seeded credit store",
			zap.Int("user_credits", len(snap.UserCredits)),
			zap.Int("marketplace_credits", len(snap.MarketplaceCredits)))
	}

	s.user = snap.UserCredits
	s.market = snap.MarketplaceCredits
	return s, nil
}

// commit persists the new collections and then swaps them in. Callers hold mu.
func (s *Store) commit(ctx context.Context, user, market []Credit) error {
	if err := s.backend.Save(ctx, StorageKey, snapshot{UserCredits: user, MarketplaceCredits: market}); err != nil {
		return fmt.Errorf("save credits: %w", err)
	}
	s.user = user
	s.market = market
	return nil
}

func indexOf(list []Credit, id uint64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func without(list []Credit, id uint64) []Credit {
	out := make([]Credit, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func clone(list []Credit) []Credit {
	out := make([]Credit, len(list))
	copy(out, list)
	return out
}

// PriceDecimals is the finest XLM precision a payment can carry (one stroop).
const PriceDecimals = 7

// ListForSale puts one of the user's credits on the marketplace at price
// XLM. Relisting replaces the existing marketplace entry.
func (s *Store) ListForSale(ctx context.Context, id uint64, price decimal.Decimal, owner string) (Credit, error) {
	if !price.IsPositive() || !price.Equal(price.Truncate(PriceDecimals)) {
		return Credit{}, ErrInvalidPrice
	}
	if owner == "" {
		return Credit{}, ErrOwnerRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.user, id)
	if i < 0 {
		return Credit{}, ErrCreditNotFound
	}
	if s.user[i].Retired {
		return Credit{}, ErrCreditRetired
	}

	listed := s.user[i]
	listed.Listed = true
	listed.Price = &price
	listed.Seller = ShortAddress(owner)
	listed.Owner = owner

	user := clone(s.user)
	user[i] = listed

	market := clone(s.market)
	if j := indexOf(market, id); j >= 0 {
		market[j] = listed
	} else {
		market = append(market, listed)
	}

	if err := s.commit(ctx, user, market); err != nil {
		return Credit{}, err
	}

	s.logger.Info("Credit listed",
		zap.Uint64("credit_id", id),
		zap.String("price", price.String()),
		zap.String("owner", owner))
	return listed, nil
}

// Retire permanently removes a user credit from circulation. It is taken
// off the marketplace whether or not it was listed.
func (s *Store) Retire(ctx context.Context, id uint64) (Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.user, id)
	if i < 0 {
		return Credit{}, ErrCreditNotFound
	}
	if s.user[i].Retired {
		return Credit{}, ErrCreditRetired
	}

	retired := s.user[i]
	retired.Retired = true
	retired.Listed = false
	retired.Price = nil
	retired.Seller = ""

	user := clone(s.user)
	user[i] = retired

	if err := s.commit(ctx, user, without(s.market, id)); err != nil {
		return Credit{}, err
	}

	s.logger.Info("Credit retired", zap.Uint64("credit_id", id), zap.Uint64("quantity", retired.Quantity))
	return retired, nil
}

// Purchase moves a marketplace credit into the user's credits, owned by
// buyer, with listing metadata cleared.
func (s *Store) Purchase(ctx context.Context, id uint64, buyer string) (Credit, error) {
	if buyer == "" {
		return Credit{}, ErrOwnerRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := indexOf(s.market, id)
	if j < 0 {
		return Credit{}, ErrNotInMarketplace
	}
	if s.market[j].Retired {
		return Credit{}, ErrCreditRetired
	}

	bought := s.market[j]
	bought.Listed = false
	bought.Price = nil
	bought.Seller = ""
	bought.Owner = buyer

	user := clone(s.user)
	if i := indexOf(user, id); i >= 0 {
		user[i] = bought
	} else {
		user = append(user, bought)
	}

	if err := s.commit(ctx, user, without(s.market, id)); err != nil {
		return Credit{}, err
	}

	s.logger.Info("Credit purchased", zap.Uint64("credit_id", id), zap.String("buyer", buyer))
	return bought, nil
}

// AddUserCredit appends c to the user's credits. A zero ID is replaced with
// the next free one.
func (s *Store) AddUserCredit(ctx context.Context, c Credit) (Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.nextID()
	} else if indexOf(s.user, c.ID) >= 0 || indexOf(s.market, c.ID) >= 0 {
		return Credit{}, ErrDuplicateCredit
	}

	user := append(clone(s.user), c)
	if err := s.commit(ctx, user, s.market); err != nil {
		return Credit{}, err
	}
	return c, nil
}

// Register records a new, unverified batch from the registry form, owned
// by owner.
func (s *Store) Register(ctx context.Context, req RegisterRequest, owner string) (Credit, error) {
	if err := req.Validate(s.now()); err != nil {
		return Credit{}, err
	}

	credit, err := s.AddUserCredit(ctx, Credit{
		ProjectID:   req.ProjectID,
		Region:      req.Region,
		VintageYear: req.VintageYear,
		Quantity:    req.Quantity,
		Issuer:      req.Issuer,
		Owner:       owner,
	})
	if err != nil {
		return Credit{}, err
	}

	s.logger.Info("Credit registered",
		zap.Uint64("credit_id", credit.ID),
		zap.String("project_id", credit.ProjectID))
	return credit, nil
}

// Verify marks a credit verified in whichever collections hold it.
func (s *Store) Verify(ctx context.Context, id uint64) (Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, j := indexOf(s.user, id), indexOf(s.market, id)
	if i < 0 && j < 0 {
		return Credit{}, ErrCreditNotFound
	}

	var verified Credit
	user, market := clone(s.user), clone(s.market)
	if i >= 0 {
		if user[i].Verified {
			return Credit{}, ErrAlreadyVerified
		}
		user[i].Verified = true
		verified = user[i]
	}
	if j >= 0 {
		if market[j].Verified && i < 0 {
			return Credit{}, ErrAlreadyVerified
		}
		market[j].Verified = true
		if i < 0 {
			verified = market[j]
		}
	}

	if err := s.commit(ctx, user, market); err != nil {
		return Credit{}, err
	}
	return verified, nil
}

func (s *Store) nextID() uint64 {
	var max uint64
	for _, list := range [][]Credit{s.user, s.market} {
		for _, c := range list {
			if c.ID > max {
				max = c.ID
			}
		}
	}
	return max + 1
}

// UserCredits returns the user's credits in insertion order.
func (s *Store) UserCredits() []Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.user)
}

// Marketplace returns listings matching f in insertion order.
func (s *Store) Marketplace(f Filter) []Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credit, 0, len(s.market))
	for _, c := range s.market {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// Listing returns the marketplace entry for id.
func (s *Store) Listing(id uint64) (Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if j := indexOf(s.market, id); j >= 0 {
		return s.market[j], nil
	}
	return Credit{}, ErrNotInMarketplace
}

// Get finds id among the user's credits, then the marketplace.
func (s *Store) Get(id uint64) (Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.user, id); i >= 0 {
		return s.user[i], nil
	}
	if j := indexOf(s.market, id); j >= 0 {
		return s.market[j], nil
	}
	return Credit{}, ErrCreditNotFound
}

// Stats counts each credit once even when it appears in both collections.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uint64]bool)
	projects := make(map[string]bool)
	var stats Stats

	for _, list := range [][]Credit{s.user, s.market} {
		for _, c := range list {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true

			stats.TotalCredits++
			stats.TotalTonnes += c.Quantity
			if c.Retired {
				stats.RetiredCredits++
				stats.RetiredTonnes += c.Quantity
			}
			if c.Verified {
				projects[c.ProjectID] = true
			}
		}
	}

	stats.ActiveListings = len(s.market)
	stats.VerifiedProjects = len(projects)
	return stats
}
