package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/index"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
)

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	coord := coordinator.New(nil)
	coord.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	})
	ctx := context.Background()
	for _, name := range []string{"창업진흥원", "서울특별시"} {
		if _, err := coord.AddOrganization(ctx, name, ""); err != nil {
			t.Fatal(err)
		}
	}
	seed := []catalog.Announcement{
		{
			ID: "174000", Title: "초기창업패키지 참여기업 모집", OrgName: "창업진흥원",
			Region: "전국", SupportField: "자금",
			ApplicationPeriod: "20250601 ~ 20250731",
			Description:       "사업화 자금 최대 1억원 지원",
		},
		{
			ID: "174001", Title: "서울시 청년창업 지원사업", OrgName: "서울특별시",
			Region: "서울", SupportField: "자금",
			ApplicationPeriod: "20250601 ~ 20250620",
		},
		{
			ID: "174002", Title: "창업 멘토링 프로그램", OrgName: "창업진흥원",
			Region: "전국", SupportField: "멘토링",
			ApplicationPeriod: "20250601 ~ 20250620",
		},
		{
			ID: "174003", Title: "상시 창업상담 안내", OrgName: "창업진흥원",
			Region: "전국", SupportField: "멘토링",
			// No parseable deadline; sorts last.
			ApplicationPeriod: "상시모집",
		},
	}
	for _, a := range seed {
		if _, err := coord.Create(ctx, a); err != nil {
			t.Fatalf("seeding %s: %v", a.ID, err)
		}
	}
	return New(coord, nil)
}

func TestSearchSingleCondition(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{
		Conditions: []Condition{{Field: index.FieldRegion, Value: "전국"}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"174002", "174000", "174003"}
	if !slices.Equal(res.IDs, want) {
		t.Fatalf("got %v, want %v (soonest deadline first, no deadline last)", res.IDs, want)
	}
}

func TestSearchIntersectsConditions(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{
		Conditions: []Condition{
			{Field: index.FieldOrganization, Value: "창업진흥원"},
			{Field: index.FieldSupportField, Value: "멘토링"},
		},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"174002", "174003"}
	if !slices.Equal(res.IDs, want) {
		t.Fatalf("got %v, want %v", res.IDs, want)
	}
}

func TestSearchEmptyIntersection(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{
		Conditions: []Condition{
			{Field: index.FieldRegion, Value: "서울"},
			{Field: index.FieldSupportField, Value: "멘토링"},
		},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 0 || len(res.IDs) != 0 {
		t.Fatalf("expected empty result, got %v", res.IDs)
	}
}

func TestSearchTitleKeywordCaseInsensitive(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{
		Conditions: []Condition{{Field: index.FieldTitleKeyword, Value: "초기창업패키지"}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !slices.Equal(res.IDs, []string{"174000"}) {
		t.Fatalf("got %v", res.IDs)
	}
}

func TestSearchUnknownFieldRejected(t *testing.T) {
	e := seededEngine(t)
	_, err := e.Search(context.Background(), Request{
		Conditions: []Condition{{Field: "deadline", Value: "x"}},
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchFreeTextNarrowsCandidates(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{
		Conditions: []Condition{{Field: index.FieldRegion, Value: "전국"}},
		FreeText:   "멘토링",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !slices.Equal(res.IDs, []string{"174002"}) {
		t.Fatalf("got %v, want [174002]", res.IDs)
	}
}

func TestSearchFreeTextFullScan(t *testing.T) {
	e := seededEngine(t)
	// No indexed condition: substring match over title and description of
	// every record.
	res, err := e.Search(context.Background(), Request{FreeText: "1억원"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !slices.Equal(res.IDs, []string{"174000"}) {
		t.Fatalf("description substring should match, got %v", res.IDs)
	}
}

func TestSearchNoConditionsReturnsAll(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("expected all 4 records, got %d", res.Total)
	}
	// Deadline ties (174001 and 174002 both end 06-20) break by id.
	want := []string{"174001", "174002", "174000", "174003"}
	if !slices.Equal(res.IDs, want) {
		t.Fatalf("got %v, want %v", res.IDs, want)
	}
}

func TestSearchLimitPreservesTotal(t *testing.T) {
	e := seededEngine(t)
	res, err := e.Search(context.Background(), Request{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("total should count all matches, got %d", res.Total)
	}
	if !slices.Equal(res.IDs, []string{"174001", "174002"}) {
		t.Fatalf("got %v", res.IDs)
	}
}

func TestSearchFailsFastWhenNeverLoaded(t *testing.T) {
	e := New(&coordinator.Coordinator{}, nil)
	_, err := e.Search(context.Background(), Request{})
	if !errors.Is(err, apperrors.ErrStoreNotLoaded) {
		t.Fatalf("expected store-not-loaded, got %v", err)
	}
}

func BenchmarkSearchIndexed(b *testing.B) {
	coord := coordinator.New(nil)
	ctx := context.Background()
	coord.AddOrganization(ctx, "창업진흥원", "")
	for i := 0; i < 5000; i++ {
		coord.Upsert(ctx, catalog.Announcement{
			ID:      fmt.Sprintf("%d", 100000+i),
			Title:   "창업 지원 사업 모집 공고",
			OrgID:   catalog.OrgIDFor("창업진흥원"),
			OrgName: "창업진흥원",
			Region:  []string{"서울", "부산", "전국"}[i%3],
		})
	}
	e := New(coord, nil)
	req := Request{Conditions: []Condition{{Field: index.FieldRegion, Value: "서울"}}}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}
