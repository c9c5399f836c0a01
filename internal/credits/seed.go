package credits

import "github.com/shopspring/decimal"

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// SeedUserCredits are the credits a fresh installation owns.
func SeedUserCredits() []Credit {
	return []Credit{
		{ID: 1, ProjectID: "PROJ-001", Region: "Brazil Rainforest", VintageYear: 2024, Quantity: 100, Verified: true},
		{ID: 5, ProjectID: "PROJ-005", Region: "Thailand Mangrove", VintageYear: 2023, Quantity: 75, Verified: true},
		{ID: 7, ProjectID: "PROJ-007", Region: "Norway Reforestation", VintageYear: 2024, Quantity: 200, Verified: true},
	}
}

// SeedMarketplaceCredits are the listings a fresh installation shows. They
// carry only an abbreviated seller, so they cannot be bought until relisted
// by an owner with a full address.
func SeedMarketplaceCredits() []Credit {
	return []Credit{
		{ID: 2, ProjectID: "PROJ-002", Region: "Kenya Solar Farm", VintageYear: 2024, Quantity: 250,
			Verified: true, Listed: true, Price: price("4.8"), Seller: "GXXXX...YYYY"},
		{ID: 3, ProjectID: "PROJ-003", Region: "India Wind Energy", VintageYear: 2023, Quantity: 500,
			Verified: true, Listed: true, Price: price("3.2"), Seller: "GXXXX...ZZZZ"},
		{ID: 4, ProjectID: "PROJ-004", Region: "Costa Rica Forest", VintageYear: 2024, Quantity: 150,
			Verified: true, Listed: true, Price: price("6.0"), Seller: "GXXXX...AAAA"},
	}
}
