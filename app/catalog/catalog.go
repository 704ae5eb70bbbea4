// Package catalog exposes the static product list. Products are compiled
// into the binary; there is no catalog storage to operate.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed products.json
var productsJSON []byte

type SuccessMessage struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	NextSteps   []string `json:"nextSteps"`
}

type Product struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"` // smallest currency unit (satang)
	Currency    string `json:"currency"`
	Active      bool   `json:"active"`

	SuccessURL     string          `json:"successUrl,omitempty"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	LogoURL        string          `json:"logoUrl,omitempty"`
	WebhookURL     string          `json:"webhookUrl,omitempty"`
	SuccessMessage *SuccessMessage `json:"successMessage,omitempty"`
}

type Catalog struct {
	products []Product
	bySlug   map[string]int
}

// Load parses the embedded product list.
func Load() (*Catalog, error) {
	return Parse(productsJSON)
}

// Parse builds a catalog from raw JSON. Split out of Load so tests can feed
// their own fixtures.
func Parse(raw []byte) (*Catalog, error) {
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("parse product catalog: %w", err)
	}

	bySlug := make(map[string]int, len(products))
	for i, p := range products {
		if p.Slug == "" {
			return nil, fmt.Errorf("product at index %d has no slug", i)
		}
		if _, exists := bySlug[p.Slug]; exists {
			return nil, fmt.Errorf("duplicate product slug %q", p.Slug)
		}
		bySlug[p.Slug] = i
	}

	return &Catalog{products: products, bySlug: bySlug}, nil
}

// All returns every product, active or not.
func (c *Catalog) All() []Product {
	items := make([]Product, len(c.products))
	copy(items, c.products)
	return items
}

// BySlug returns the product for a slug, or nil when unknown.
func (c *Catalog) BySlug(slug string) *Product {
	idx, ok := c.bySlug[slug]
	if !ok {
		return nil
	}
	p := c.products[idx]
	return &p
}
