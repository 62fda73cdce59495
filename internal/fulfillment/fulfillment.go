// Package fulfillment maps purchased license tiers to deliverable files and
// assembles the delivery manifest sent to the buyer.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/beat-storefront/backend/internal/assets"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

// Deliverable is a kind of file a license can unlock.
type Deliverable int

const (
	Streaming Deliverable = iota + 1
	Lossless
	Stems
)

func (d Deliverable) String() string {
	switch d {
	case Streaming:
		return "streaming"
	case Lossless:
		return "lossless"
	case Stems:
		return "stems"
	default:
		return "unknown"
	}
}

// deliverables is the single table of what each tier unlocks. Every tier
// gets the streaming file and higher beat tiers include everything lower
// tiers get. A sound kit's archive lives in the stems slot.
var deliverables = map[models.LicenseTier][]Deliverable{
	models.TierBasic:     {Streaming},
	models.TierPremium:   {Streaming, Lossless},
	models.TierUnlimited: {Streaming, Lossless, Stems},
	models.TierExclusive: {Streaming, Lossless, Stems},
	models.TierSoundKit:  {Streaming, Stems},
}

// DeliverablesFor returns the file kinds a tier unlocks.
func DeliverablesFor(tier models.LicenseTier) []Deliverable {
	return deliverables[tier]
}

func refFor(p *models.Product, d Deliverable) string {
	switch d {
	case Streaming:
		return p.StreamingRef
	case Lossless:
		return p.LosslessRef
	case Stems:
		return p.StemsRef
	default:
		return ""
	}
}

// Catalog is the product lookup fulfillment reads files from.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

// Service builds delivery manifests.
type Service struct {
	catalog Catalog
	urls    *assets.URLBuilder
	now     func() time.Time
}

// NewService creates a Service.
func NewService(catalog Catalog, urls *assets.URLBuilder) *Service {
	return &Service{catalog: catalog, urls: urls, now: time.Now}
}

// BuildManifest lists the downloadable files for every line of a paid
// session. Files missing from the catalog are left out. A product removed
// from the catalog after purchase yields an item with no files so support can
// follow up; any other catalog error fails the whole manifest.
func (s *Service) BuildManifest(ctx context.Context, sess *models.CheckoutSession) (*models.DeliveryManifest, error) {
	manifest := &models.DeliveryManifest{
		SessionID:  sess.ID,
		BuyerEmail: sess.BuyerEmail,
		BuyerName:  sess.BuyerName,
		Items:      make([]models.DeliveryItem, 0, len(sess.Cart)),
		CreatedAt:  s.now().UTC(),
	}

	for _, line := range sess.Cart {
		item := models.DeliveryItem{
			ProductID: line.ProductID,
			BeatTitle: line.ProductTitle,
			License:   line.LicenseTier.Label(),
			Files:     []models.DeliveryFile{},
		}

		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		switch {
		case errors.Is(err, store.ErrProductNotFound):
			log.Printf("[fulfillment] session %s: product %s no longer in catalog", sess.ID, line.ProductID)
			manifest.Items = append(manifest.Items, item)
			continue
		case err != nil:
			return nil, fmt.Errorf("fulfillment: load product %s: %w", line.ProductID, err)
		}
		if item.BeatTitle == "" {
			item.BeatTitle = product.Title
		}

		for _, d := range DeliverablesFor(line.LicenseTier) {
			ref := refFor(product, d)
			if ref == "" {
				continue
			}
			item.Files = append(item.Files, models.DeliveryFile{
				Name: assets.FileName(ref),
				URL:  s.urls.PublicURL(ref),
			})
		}
		manifest.Items = append(manifest.Items, item)
	}
	return manifest, nil
}
