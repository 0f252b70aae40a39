package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleHotels() []Hotel {
	return []Hotel{
		{ID: "seaside", Name: "Seaside Inn", City: "Lisbon", Country: "Portugal", Stars: 4, PricePerNight: 12000, Currency: "USD", Tags: []string{"beach", "spa"}},
		{ID: "alpine", Name: "Alpine Lodge", City: "Zermatt", Country: "Switzerland", Stars: 5, PricePerNight: 45000, Currency: "CHF", Tags: []string{"ski"}},
		{ID: "harbor", Name: "Harbor View", City: "Lisbon", Country: "Portugal", Stars: 3, PricePerNight: 8000, Currency: "USD"},
	}
}

func TestMemoryStoreSearchFilters(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(sampleHotels())
	ctx := context.Background()

	tests := []struct {
		name   string
		params *SearchParams
		want   []string
	}{
		{name: "nil params", params: nil, want: []string{"alpine", "harbor", "seaside"}},
		{name: "city", params: &SearchParams{City: "lisbon"}, want: []string{"harbor", "seaside"}},
		{name: "stars", params: &SearchParams{MinStars: 4}, want: []string{"alpine", "seaside"}},
		{name: "price", params: &SearchParams{MaxPrice: 10000}, want: []string{"harbor"}},
		{name: "tags", params: &SearchParams{Tags: []string{"SPA"}}, want: []string{"seaside"}},
		{name: "name substring", params: &SearchParams{Name: "lodge"}, want: []string{"alpine"}},
		{name: "no match", params: &SearchParams{Country: "Japan"}, want: nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Search(ctx, tt.params, 0)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if got := ids(results); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("unexpected ids: got %v want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreEmptySearchCapsAtDefaultLimit(t *testing.T) {
	t.Parallel()

	hotels := make([]Hotel, 0, 80)
	for i := 0; i < 80; i++ {
		hotels = append(hotels, Hotel{ID: fmt.Sprintf("h%02d", i), Name: fmt.Sprintf("Hotel %02d", i)})
	}
	store := NewMemoryStore(hotels)

	results, err := store.Search(context.Background(), &SearchParams{}, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != DefaultLimit {
		t.Fatalf("expected %d results, got %d", DefaultLimit, len(results))
	}

	small := NewMemoryStore(sampleHotels())
	results, err = small.Search(context.Background(), &SearchParams{}, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected full listing of 3, got %d", len(results))
	}
}

func TestMemoryStoreIngestReplacesNamespace(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(sampleHotels())
	ctx := context.Background()

	if err := store.Ingest(ctx, "tenant-a", []Hotel{{ID: "tenant-a", Name: "Canal House", City: "Amsterdam"}}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if err := store.Ingest(ctx, "tenant-a", []Hotel{{ID: "tenant-a", Name: "Canal House Deluxe", City: "Amsterdam"}}); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 hotels, got %d", len(all))
	}
	var found bool
	for _, hotel := range all {
		if hotel.ID == "tenant-a" {
			found = true
			if hotel.Name != "Canal House Deluxe" || hotel.Namespace != "tenant-a" {
				t.Fatalf("namespace not replaced: %+v", hotel)
			}
		}
	}
	if !found {
		t.Fatalf("ingested hotel missing")
	}

	if err := store.Ingest(ctx, "tenant-b", []Hotel{{ID: "", Name: "broken"}}); err == nil {
		t.Fatalf("expected error for hotel without id")
	}
}

func TestMemoryStoreNamespaceReturnsOnlyThatNamespace(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(sampleHotels())
	ctx := context.Background()
	if err := store.Ingest(ctx, "tenant-a", []Hotel{{ID: "tenant-a", Name: "Canal House", Tags: []string{"canal"}}}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	hotels, err := store.Namespace(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("namespace failed: %v", err)
	}
	if len(hotels) != 1 || hotels[0].ID != "tenant-a" || hotels[0].Namespace != "tenant-a" {
		t.Fatalf("unexpected namespace contents: %+v", hotels)
	}
	hotels[0].Tags[0] = "mutated"
	again, _ := store.Namespace(ctx, "tenant-a")
	if again[0].Tags[0] != "canal" {
		t.Fatalf("namespace must return a copy, got %+v", again[0])
	}

	if missing, err := store.Namespace(ctx, "nobody"); err != nil || len(missing) != 0 {
		t.Fatalf("expected empty namespace, got %+v (%v)", missing, err)
	}
}

func TestMergeByIDPrefersTenantNamespace(t *testing.T) {
	t.Parallel()

	merged := MergeByID([]Hotel{
		{ID: "x", Name: "Tenant Copy", Namespace: "x"},
		{ID: "x", Name: "Seed Copy", Namespace: DefaultNamespace},
	})
	if len(merged) != 1 || merged[0].Name != "Tenant Copy" {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hotels.json")
	content := `[{"id":"seaside","name":"Seaside Inn","city":"Lisbon","country":"Portugal","stars":4,"pricePerNight":12000}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	hotels, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(hotels) != 1 || hotels[0].PricePerNight != 12000 {
		t.Fatalf("unexpected hotels: %+v", hotels)
	}

	if _, err := LoadFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSummaryAndFormatResults(t *testing.T) {
	t.Parallel()

	hotels := sampleHotels()[:1]
	if got := Summary(hotels); got != "- seaside: Seaside Inn (Lisbon, Portugal)" {
		t.Fatalf("unexpected summary: %q", got)
	}

	formatted := FormatResults(hotels)
	want := "Found 1 hotel(s):\n1. Seaside Inn - Lisbon, Portugal | 4★ | 12000 USD/night | tags: beach, spa"
	if formatted != want {
		t.Fatalf("unexpected format:\n%s", formatted)
	}
	if FormatResults(nil) != "No hotels matched your search." {
		t.Fatalf("unexpected empty format")
	}
}

func ids(hotels []Hotel) []string {
	var out []string
	for _, h := range hotels {
		out = append(out, h.ID)
	}
	return out
}
