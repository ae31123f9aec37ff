package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/query"
	"github.com/jeongwoohan/grantcat/pkg/config"
	"github.com/jeongwoohan/grantcat/pkg/health"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

func newTestServer(t *testing.T) (http.Handler, *coordinator.Coordinator) {
	t.Helper()
	m := metrics.New()
	coord := coordinator.New(m)
	coord.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	})
	if _, err := coord.AddOrganization(context.Background(), "창업진흥원", "공공기관"); err != nil {
		t.Fatal(err)
	}

	engine := query.New(coord, m)
	h := NewHandler(coord, engine, nil, config.QueryConfig{DefaultLimit: 50, MaxResults: 500}, m)
	cfg := config.Config{
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	return NewRouter(h, health.NewChecker(), m, cfg), coord
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetAnnouncement(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/announcements", catalog.Announcement{
		Title:             "신규 지원사업 공고",
		OrgName:           "창업진흥원",
		Region:            "서울",
		ApplicationPeriod: "20250601 ~ 20250715",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, router, http.MethodGet, "/announcements/"+created["id"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got catalog.Announcement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "신규 지원사업 공고", got.Title)
	assert.Equal(t, catalog.StatusActive, got.Status)
}

func TestCreateValidationFailure(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodPost, "/announcements", catalog.Announcement{
		Title:   "기관 없는 공고",
		OrgName: "등록안된기관",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "fields")
}

func TestGetAnnouncementNotFound(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/announcements/999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAndDeleteAnnouncement(t *testing.T) {
	router, coord := newTestServer(t)
	ctx := context.Background()
	id, err := coord.Create(ctx, catalog.Announcement{
		Title: "수정 대상 공고", OrgName: "창업진흥원", Region: "서울",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPatch, "/announcements/"+id,
		map[string]string{"region": "부산"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patched))
	assert.True(t, patched["changed"])

	rec = doJSON(t, router, http.MethodDelete, "/announcements/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/announcements/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	router, coord := newTestServer(t)
	ctx := context.Background()
	for i, region := range []string{"서울", "부산", "서울"} {
		_, err := coord.Create(ctx, catalog.Announcement{
			ID:                fmt.Sprintf("17400%d", i),
			Title:             fmt.Sprintf("지원사업 %d차 모집", i),
			OrgName:           "창업진흥원",
			Region:            region,
			ApplicationPeriod: fmt.Sprintf("20250601 ~ 2025062%d", i),
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, router, http.MethodGet, "/search?region=서울", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{"174000", "174002"}, res.IDs)

	rec = doJSON(t, router, http.MethodGet, "/search?region=서울&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.IDs, 1)

	rec = doJSON(t, router, http.MethodGet, "/search?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrganizationsEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/organizations",
		catalog.Organization{Name: "서울특별시", Type: "지자체"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/organizations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total         int                    `json:"total"`
		Organizations []catalog.Organization `json:"organizations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
}

func TestStatsEndpoint(t *testing.T) {
	router, coord := newTestServer(t)
	ctx := context.Background()
	_, err := coord.Create(ctx, catalog.Announcement{
		Title: "마감 임박 공고", OrgName: "창업진흥원",
		ApplicationPeriod: "20250520 ~ 20250603",
	})
	require.NoError(t, err)
	_, err = coord.Create(ctx, catalog.Announcement{
		Title: "마감된 공고", OrgName: "창업진흥원",
		ApplicationPeriod: "20250101 ~ 20250131",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats coordinator.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Announcements)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.ClosingSoon)
}

func TestCacheStatsWithoutCache(t *testing.T) {
	router, _ := newTestServer(t)

	// Runs without Redis, so the counters endpoint reports the cache absent.
	rec := doJSON(t, router, http.MethodGet, "/cache/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRebuildEndpoint(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodPost, "/index/rebuild", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
