package server

import (
	"context"

	"github.com/mbd888/escrowd/internal/listing"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/party"
)

// seedDemoData loads a small cast and catalog into the in-memory stores so
// a fresh dev server is immediately usable:
//
//	curl -H 'X-Actor-ID: ada' -X POST localhost:8080/v1/transactions \
//	     -d '{"listingId": "<from /v1/listings>"}'
func (s *Server) seedDemoData() {
	ctx := context.Background()

	actors := []*party.Actor{
		{ID: "ada", DisplayName: "Ada", Role: party.RoleMember, HasShippingAddress: true},
		{ID: "bola", DisplayName: "Bola", Role: party.RoleMember, HasShippingAddress: true},
		{ID: "chidi", DisplayName: "Chidi", Role: party.RoleMember}, // no shipping address on file
		{ID: "root-admin", DisplayName: "Ops", Role: party.RoleAdmin},
		{ID: "root-super", DisplayName: "Ops Lead", Role: party.RoleSuperAdmin},
	}
	for _, a := range actors {
		if err := s.parties.Upsert(ctx, a); err != nil {
			s.logger.Warn("demo seed: party", "id", a.ID, "error", err)
		}
	}

	listings := []*listing.Listing{
		{SellerID: "bola", Title: "Vintage film camera", Description: "Canon AE-1, tested, new seals", Price: money.MustParse("85000.00"), Available: true},
		{SellerID: "bola", Title: "Mechanical keyboard", Description: "87-key, brown switches", Price: money.MustParse("42500.50"), Available: true},
		{SellerID: "ada", Title: "Graphics tablet", Description: "Lightly used, pen included", Price: money.MustParse("60000.00"), Available: true},
	}
	for _, l := range listings {
		if err := s.listings.Create(ctx, l); err != nil {
			s.logger.Warn("demo seed: listing", "title", l.Title, "error", err)
		}
	}

	s.logger.Info("demo data seeded",
		"parties", len(actors),
		"listings", len(listings))
}
