package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"stagedir/api/internal/pathtree"
)

func setupTestCache(t *testing.T) (*TaxonomyCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewTaxonomyCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return c, s
}

func TestSetAndGetListing(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	payload := []byte(`{"nodes":[]}`)

	if _, ok := c.GetListing(ctx, "activities", "cat", 0, 50); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.SetListing(ctx, "activities", "cat", 0, 50, payload); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := c.GetListing(ctx, "activities", "cat", 0, 50)
	if !ok || string(got) != string(payload) {
		t.Fatalf("get = %q, ok=%v", got, ok)
	}

	// Different page is a different key.
	if _, ok := c.GetListing(ctx, "activities", "cat", 50, 50); ok {
		t.Fatal("page must be part of the key")
	}
	// Different table is a different key.
	if _, ok := c.GetListing(ctx, "disciplines", "cat", 0, 50); ok {
		t.Fatal("table must be part of the key")
	}
}

func TestInvalidateSubtree(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	payload := []byte(`x`)
	prefixes := []string{"", "cat", "cat.small", "cat.small.wild", "dog"}
	for _, prefix := range prefixes {
		if err := c.SetListing(ctx, "activities", prefix, 0, 50, payload); err != nil {
			t.Fatalf("set %q: %v", prefix, err)
		}
	}
	if err := c.SetListing(ctx, "disciplines", "cat", 0, 50, payload); err != nil {
		t.Fatalf("set disciplines: %v", err)
	}

	// A move inside cat.small invalidates the subtree, its ancestors and
	// the whole-table listing, but not the disjoint dog subtree.
	if err := c.InvalidateSubtree(ctx, "activities", pathtree.MustParse("cat.small")); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	for _, prefix := range []string{"", "cat", "cat.small", "cat.small.wild"} {
		if _, ok := c.GetListing(ctx, "activities", prefix, 0, 50); ok {
			t.Fatalf("listing %q should have been dropped", prefix)
		}
	}
	if _, ok := c.GetListing(ctx, "activities", "dog", 0, 50); !ok {
		t.Fatal("disjoint listing should survive")
	}
	if _, ok := c.GetListing(ctx, "disciplines", "cat", 0, 50); !ok {
		t.Fatal("other tables should survive")
	}
}

func TestInvalidateSubtreeZeroDropsTable(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	for _, prefix := range []string{"", "cat", "dog"} {
		if err := c.SetListing(ctx, "mobilities", prefix, 0, 50, []byte(`x`)); err != nil {
			t.Fatalf("set %q: %v", prefix, err)
		}
	}

	if err := c.InvalidateSubtree(ctx, "mobilities", pathtree.Path{}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, prefix := range []string{"", "cat", "dog"} {
		if _, ok := c.GetListing(ctx, "mobilities", prefix, 0, 50); ok {
			t.Fatalf("listing %q should have been dropped", prefix)
		}
	}
}
