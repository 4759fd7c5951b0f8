package catalog

import (
	"errors"
	"fmt"
	"strings"

	"L402Paywall/internal/models"
)

var ErrOfferNotFound = errors.New("offer not found")

// Catalog is built once at start-up and never mutated, so it is safe to
// share across request goroutines without locking.
type Catalog struct {
	offers []models.Offer
	byID   map[string]int
}

func New(offers []models.Offer) (*Catalog, error) {
	if len(offers) == 0 {
		return nil, errors.New("catalog needs at least one offer")
	}
	c := &Catalog{
		offers: make([]models.Offer, 0, len(offers)),
		byID:   make(map[string]int, len(offers)),
	}
	for _, o := range offers {
		o.ID = strings.TrimSpace(o.ID)
		o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
		switch {
		case o.ID == "":
			return nil, errors.New("offer id is required")
		case o.Credits <= 0:
			return nil, fmt.Errorf("offer %s: credits must be positive", o.ID)
		case o.Amount.IsNegative():
			return nil, fmt.Errorf("offer %s: amount must not be negative", o.ID)
		case o.Currency == "":
			return nil, fmt.Errorf("offer %s: currency is required", o.ID)
		}
		if _, dup := c.byID[o.ID]; dup {
			return nil, fmt.Errorf("offer %s: duplicate id", o.ID)
		}
		c.byID[o.ID] = len(c.offers)
		c.offers = append(c.offers, o)
	}
	return c, nil
}

func (c *Catalog) List() []models.Offer {
	out := make([]models.Offer, len(c.offers))
	copy(out, c.offers)
	return out
}

func (c *Catalog) Get(id string) (models.Offer, error) {
	i, ok := c.byID[id]
	if !ok {
		return models.Offer{}, ErrOfferNotFound
	}
	return c.offers[i], nil
}
