// Package catalog holds the fixed, server-side credit package catalog.
// Prices and credit grants are never accepted from client input; the
// package id is the only thing a client may choose.
package catalog

import (
	"errors"
	"sort"
	"strings"
)

// Package is one purchasable credit bundle.
type Package struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	BaseCredits  int64  `json:"base_credits"`
	BonusCredits int64  `json:"bonus_credits"`
}

// TotalCredits is the credit grant applied on a successful capture.
func (p Package) TotalCredits() int64 {
	return p.BaseCredits + p.BonusCredits
}

var ErrUnknownPackage = errors.New("unknown_package")

type Catalog struct {
	packages map[string]Package
	order    []string
}

// Default returns the catalog the site sells.
func Default() *Catalog {
	return New(
		Package{ID: "starter", Label: "Starter", AmountMinor: 500, Currency: "USD", BaseCredits: 5},
		Package{ID: "standard", Label: "Standard", AmountMinor: 1000, Currency: "USD", BaseCredits: 10},
		Package{ID: "plus", Label: "Plus", AmountMinor: 2500, Currency: "USD", BaseCredits: 25, BonusCredits: 3},
		Package{ID: "pro", Label: "Pro", AmountMinor: 5000, Currency: "USD", BaseCredits: 50, BonusCredits: 10},
	)
}

func New(packages ...Package) *Catalog {
	c := &Catalog{packages: map[string]Package{}}
	for _, pkg := range packages {
		id := strings.ToLower(strings.TrimSpace(pkg.ID))
		if id == "" {
			continue
		}
		if _, exists := c.packages[id]; !exists {
			c.order = append(c.order, id)
		}
		pkg.ID = id
		c.packages[id] = pkg
	}
	return c
}

// Lookup resolves a client-supplied package id against the catalog.
func (c *Catalog) Lookup(id string) (Package, error) {
	pkg, ok := c.packages[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Package{}, ErrUnknownPackage
	}
	return pkg, nil
}

// List returns all packages in catalog order, cheapest first.
func (c *Catalog) List() []Package {
	out := make([]Package, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.packages[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AmountMinor < out[j].AmountMinor })
	return out
}
