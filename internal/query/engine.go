// Package query resolves multi-condition searches against the catalog:
// index lookups intersected across conditions, an optional free-text
// substring pass, and deadline-proximity ordering.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/internal/index"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

// Condition is a single (field, value) equality filter. Field must be one
// of the indexed fields.
type Condition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Request is a search over the catalog. Conditions are ANDed; FreeText is
// matched by substring containment against title and description.
type Request struct {
	Conditions []Condition `json:"conditions,omitempty"`
	FreeText   string      `json:"free_text,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Result carries the matching announcements, soonest deadline first.
type Result struct {
	Total         int                    `json:"total"`
	IDs           []string               `json:"ids"`
	Announcements []catalog.Announcement `json:"announcements"`
}

// Engine executes searches through the coordinator's consistent read view.
type Engine struct {
	coord   *coordinator.Coordinator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(coord *coordinator.Coordinator, m *metrics.Metrics) *Engine {
	return &Engine{
		coord:   coord,
		logger:  logger.WithComponent("query-engine"),
		metrics: m,
	}
}

// Search resolves the request. Every indexed condition narrows the
// candidate set via index lookups; free text then filters the survivors.
// With no indexed condition at all, free text falls back to a full store
// scan, which is O(n) and acceptable only because the catalog is bounded.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	for _, cond := range req.Conditions {
		if !slices.Contains(index.Fields, cond.Field) {
			return nil, &apperrors.ValidationError{Fields: map[string]string{
				"conditions": fmt.Sprintf("unknown search field %q", cond.Field),
			}}
		}
		if cond.Value == "" {
			return nil, &apperrors.ValidationError{Fields: map[string]string{
				"conditions": fmt.Sprintf("empty value for field %q", cond.Field),
			}}
		}
	}

	var matches []catalog.Announcement
	var scanned bool
	err := e.coord.Read(ctx, func(v coordinator.View) error {
		var candidates []catalog.Announcement
		candidates, scanned = e.candidates(v, req)
		free := strings.ToLower(strings.TrimSpace(req.FreeText))
		for _, a := range candidates {
			if free != "" && !matchesFreeText(a, free) {
				continue
			}
			matches = append(matches, a)
		}
		e.logger.Debug("search resolved",
			"conditions", len(req.Conditions),
			"full_scan", scanned,
			"candidates", len(candidates),
			"matches", len(matches),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		resultType := "indexed"
		if scanned {
			resultType = "full_scan"
		}
		e.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}

	sortByDeadline(matches)
	total := len(matches)
	if req.Limit > 0 && len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}
	ids := make([]string, len(matches))
	for i, a := range matches {
		ids[i] = a.ID
	}
	return &Result{Total: total, IDs: ids, Announcements: matches}, nil
}

// candidates returns the records surviving the indexed conditions, and
// whether a full scan was needed (no indexed condition given).
func (e *Engine) candidates(v coordinator.View, req Request) ([]catalog.Announcement, bool) {
	if len(req.Conditions) == 0 {
		all := make([]catalog.Announcement, 0, v.Len())
		for _, a := range v.All() {
			all = append(all, a)
		}
		return all, true
	}

	// Intersect starting from the smallest id set.
	sets := make([][]string, len(req.Conditions))
	for i, cond := range req.Conditions {
		value := cond.Value
		if cond.Field == index.FieldTitleKeyword {
			value = strings.ToLower(value)
		}
		sets[i] = v.Lookup(cond.Field, value)
	}
	slices.SortFunc(sets, func(a, b []string) int { return len(a) - len(b) })

	surviving := sets[0]
	for _, set := range sets[1:] {
		if len(surviving) == 0 {
			break
		}
		members := make(map[string]struct{}, len(set))
		for _, id := range set {
			members[id] = struct{}{}
		}
		kept := surviving[:0:0]
		for _, id := range surviving {
			if _, ok := members[id]; ok {
				kept = append(kept, id)
			}
		}
		surviving = kept
	}

	result := make([]catalog.Announcement, 0, len(surviving))
	for _, id := range surviving {
		if a, ok := v.Get(id); ok {
			result = append(result, a)
		}
	}
	return result, false
}

func matchesFreeText(a catalog.Announcement, needle string) bool {
	return strings.Contains(strings.ToLower(a.Title), needle) ||
		strings.Contains(strings.ToLower(a.Description), needle)
}

// sortByDeadline orders soonest deadline first, records without a deadline
// last, ties broken by id so the ordering is stable across runs.
func sortByDeadline(anns []catalog.Announcement) {
	slices.SortFunc(anns, func(a, b catalog.Announcement) int {
		switch {
		case a.Deadline.IsZero() && b.Deadline.IsZero():
			return strings.Compare(a.ID, b.ID)
		case a.Deadline.IsZero():
			return 1
		case b.Deadline.IsZero():
			return -1
		case a.Deadline.Before(b.Deadline):
			return -1
		case b.Deadline.Before(a.Deadline):
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
}
