// Package catalog loads variant stock figures from the product/material
// catalog export into a store's stock read model.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Entry is one variant's stock figures.
type Entry struct {
	VariantID string
	Current   decimal.Decimal
	Incoming  decimal.Decimal
}

// Writer is implemented by every store.
type Writer interface {
	UpsertVariantStock(ctx context.Context, variantID string, current, incoming decimal.Decimal) error
}

type seedFile struct {
	Variants []struct {
		ID       string `yaml:"id"`
		Current  string `yaml:"current"`
		Incoming string `yaml:"incoming"`
	} `yaml:"variants"`
}

// LoadFile reads a seed file.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog seed: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a seed document. Quantities are decimal strings; a missing
// incoming figure is zero.
func Load(r io.Reader) ([]Entry, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	seen := make(map[string]struct{}, len(seed.Variants))
	entries := make([]Entry, 0, len(seed.Variants))
	for i, v := range seed.Variants {
		if v.ID == "" {
			return nil, fmt.Errorf("variant %d: missing id", i)
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("variant %s listed twice", v.ID)
		}
		seen[v.ID] = struct{}{}
		current, err := parseQuantity(v.Current)
		if err != nil {
			return nil, fmt.Errorf("variant %s current: %w", v.ID, err)
		}
		incoming, err := parseQuantity(v.Incoming)
		if err != nil {
			return nil, fmt.Errorf("variant %s incoming: %w", v.ID, err)
		}
		entries = append(entries, Entry{VariantID: v.ID, Current: current, Incoming: incoming})
	}
	return entries, nil
}

// Apply writes every entry to the store.
func Apply(ctx context.Context, w Writer, entries []Entry) error {
	for _, e := range entries {
		if err := w.UpsertVariantStock(ctx, e.VariantID, e.Current, e.Incoming); err != nil {
			return fmt.Errorf("seed %s: %w", e.VariantID, err)
		}
	}
	return nil
}

func parseQuantity(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	q, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if q.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative quantity %s", raw)
	}
	return q, nil
}
