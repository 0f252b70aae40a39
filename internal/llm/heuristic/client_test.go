package heuristic

import (
	"context"
	"encoding/json"
	"testing"

	"StayRelay/internal/llm"
)

const catalogSummary = "- seaside: Seaside Inn (Lisbon, Portugal)\n- alpine: Alpine Lodge (Zermatt, Switzerland)"

func generate(t *testing.T, req llm.Request) map[string]any {
	t.Helper()

	resp, err := NewClient().Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", resp.Content, err)
	}
	return decoded
}

func TestClassifyCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query    string
		category string
	}{
		{query: "hi there", category: "conversation"},
		{query: "Find me 4 star hotels in Lisbon under 20000", category: "catalog_search"},
		{query: "Does Alpine Lodge have a sauna?", category: "entity_specific"},
		{query: "I want to book Seaside Inn from 2025-03-01 to 2025-03-03", category: "booking_confirmation"},
	}

	for _, tt := range tests {
		got := generate(t, llm.Request{Purpose: llm.PurposeIntent, Catalog: catalogSummary, Query: tt.query})
		if got["category"] != tt.category {
			t.Fatalf("query %q: expected %s, got %v", tt.query, tt.category, got["category"])
		}
	}
}

func TestClassifyExtractsSearchParams(t *testing.T) {
	t.Parallel()

	got := generate(t, llm.Request{Purpose: llm.PurposeIntent, Catalog: catalogSummary, Query: "show 4 star hotels in lisbon under 20000"})
	params, ok := got["searchParams"].(map[string]any)
	if !ok {
		t.Fatalf("missing search params: %v", got)
	}
	if params["city"] != "Lisbon" || params["minStars"] != float64(4) || params["maxPrice"] != float64(20000) {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestEntityLookupAndDates(t *testing.T) {
	t.Parallel()

	lookup := generate(t, llm.Request{
		Purpose: llm.PurposeEntityLookup,
		Catalog: catalogSummary,
		Query:   "yes please confirm",
		History: "user: tell me about seaside inn",
	})
	if lookup["entityName"] != "Seaside Inn" {
		t.Fatalf("unexpected lookup: %v", lookup)
	}

	dates := generate(t, llm.Request{Purpose: llm.PurposeBookingDates, Query: "from 2025-03-01 until 2025-03-04"})
	if dates["checkin"] != "2025-03-01" || dates["checkout"] != "2025-03-04" {
		t.Fatalf("unexpected dates: %v", dates)
	}

	missing := generate(t, llm.Request{Purpose: llm.PurposeBookingDates, Query: "book it"})
	if missing["checkin"] != nil || missing["checkout"] != nil {
		t.Fatalf("expected null dates: %v", missing)
	}
}
