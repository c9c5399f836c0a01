package credits

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/strkey"
)

var (
	ErrCreditNotFound   = errors.New("credits: credit not found")
	ErrNotInMarketplace = errors.New("credits: credit is not listed in the marketplace")
	ErrCreditRetired    = errors.New("credits: credit is retired")
	ErrInvalidPrice     = errors.New("credits: price must be positive with at most 7 decimal places")
	ErrOwnerRequired    = errors.New("credits: owner address is required")
	ErrAlreadyVerified  = errors.New("credits: credit is already verified")
	ErrDuplicateCredit  = errors.New("credits: credit id already exists")
	ErrInvalidRequest   = errors.New("credits: invalid request")
)

// MinVintageYear is the earliest vintage the registry accepts.
const MinVintageYear = 2000

// Credit is one batch of tokenized carbon offsets. Quantity is in tons of
// CO2. A listed credit always carries Price, Seller and Owner.
type Credit struct {
	ID          uint64           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Region      string           `json:"region"`
	VintageYear int              `json:"vintage_year"`
	Quantity    uint64           `json:"quantity"`
	Verified    bool             `json:"verified"`
	Retired     bool             `json:"retired"`
	Listed      bool             `json:"listed"`
	Price       *decimal.Decimal `json:"price,omitempty"` // XLM
	Seller      string           `json:"seller,omitempty"`
	Owner       string           `json:"owner,omitempty"`
	Issuer      string           `json:"issuer,omitempty"`
}

// PriceLabel renders the price the way it is shown to users, e.g. "4.8 XLM".
func (c Credit) PriceLabel() string {
	if c.Price == nil {
		return ""
	}
	return FormatXLM(*c.Price)
}

// FormatXLM formats an XLM amount for display and transaction records.
func FormatXLM(price decimal.Decimal) string {
	return price.String() + " XLM"
}

// ShortAddress abbreviates a ledger address to its first 5 and last 4
// characters.
func ShortAddress(address string) string {
	if len(address) <= 9 {
		return address
	}
	return address[:5] + "..." + address[len(address)-4:]
}

// Filter narrows marketplace results. Region "" or "all" matches every
// region; otherwise dashes in Region stand for spaces ("costa-rica").
type Filter struct {
	Search string `form:"search"`
	Region string `form:"region"`
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Credit) bool {
	region := strings.ToLower(c.Region)

	if f.Search != "" {
		search := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.ProjectID), search) && !strings.Contains(region, search) {
			return false
		}
	}

	if f.Region != "" && f.Region != "all" {
		// Slugs are matched case-insensitively with every dash as a space,
		// so "Costa-Rica" and "sri-lanka-north" select their regions too.
		want := strings.ToLower(strings.ReplaceAll(f.Region, "-", " "))
		if !strings.Contains(region, want) {
			return false
		}
	}
	return true
}

// Stats summarises the credits known to the store.
type Stats struct {
	TotalCredits     int    `json:"total_credits"`
	TotalTonnes      uint64 `json:"total_tonnes"`
	ActiveListings   int    `json:"active_listings"`
	RetiredCredits   int    `json:"retired_credits"`
	RetiredTonnes    uint64 `json:"retired_tonnes"`
	VerifiedProjects int    `json:"verified_projects"`
}

// RegisterRequest is a new batch submitted through the registry.
type RegisterRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	Issuer      string `json:"issuer" binding:"required"`
	VintageYear int    `json:"vintage_year" binding:"required"`
	Region      string `json:"region" binding:"required"`
	Quantity    uint64 `json:"quantity" binding:"required"`
}

// Validate checks the registry form rules against the current year.
func (r RegisterRequest) Validate(now time.Time) error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidRequest)
	}
	if !strkey.IsValidEd25519PublicKey(r.Issuer) {
		return fmt.Errorf("%w: issuer %q is not a valid Stellar address", ErrInvalidRequest, r.Issuer)
	}
	if r.VintageYear < MinVintageYear || r.VintageYear > now.Year() {
		return fmt.Errorf("%w: vintage year must be between %d and %d", ErrInvalidRequest, MinVintageYear, now.Year())
	}
	if strings.TrimSpace(r.Region) == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidRequest)
	}
	if r.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidRequest)
	}
	return nil
}
