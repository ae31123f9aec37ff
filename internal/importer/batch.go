// Package importer applies crawled announcement batches to the catalog:
// per-record validation, organization dedupe, announcement upsert, a single
// persistence flush per batch, and a verifying consistency check at the end.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/pkg/config"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

// RawRecord is one announcement as emitted by the crawler feed.
type RawRecord struct {
	PbancSn           string   `json:"pbancSn"`
	Title             string   `json:"title"`
	OrgName           string   `json:"orgName"`
	OrgType           string   `json:"orgType,omitempty"`
	Description       string   `json:"description,omitempty"`
	SupportContent    []string `json:"supportContent,omitempty"`
	SupportField      string   `json:"supportField,omitempty"`
	Region            string   `json:"region,omitempty"`
	TargetAudience    string   `json:"targetAudience,omitempty"`
	ApplicationPeriod string   `json:"applicationPeriod"`
	Contact           string   `json:"contact,omitempty"`
	SourceURL         string   `json:"sourceUrl,omitempty"`
	Attachments       []string `json:"attachments,omitempty"`
}

// Batch is the unit the feed publishes: one crawl's worth of records.
type Batch struct {
	FetchedAt time.Time   `json:"fetchedAt,omitzero"`
	Records   []RawRecord `json:"records"`
}

// Result counts what a batch application did.
type Result struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	NewOrgs   int `json:"new_orgs"`
}

// Pipeline applies batches through the coordinator.
type Pipeline struct {
	coord   *coordinator.Coordinator
	cfg     config.ImportConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPipeline(coord *coordinator.Coordinator, cfg config.ImportConfig, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		coord:   coord,
		cfg:     cfg,
		logger:  logger.WithComponent("importer"),
		metrics: m,
	}
}

// Apply runs a batch to completion. Invalid records are skipped and counted,
// never fatal. Records already present with identical content are left
// untouched, so re-running an interrupted batch is safe. Persistence happens
// once, after all records are applied; the batch then verifies the index
// against the stores and rebuilds on any divergence.
func (p *Pipeline) Apply(ctx context.Context, batch Batch) (*Result, error) {
	if p.cfg.MaxBatchRecords > 0 && len(batch.Records) > p.cfg.MaxBatchRecords {
		p.countBatch("rejected")
		return nil, &apperrors.ValidationError{Fields: map[string]string{
			"records": fmt.Sprintf("batch of %d exceeds limit %d", len(batch.Records), p.cfg.MaxBatchRecords),
		}}
	}

	res := &Result{}
	for i, raw := range batch.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if reason := validate(raw); reason != "" {
			res.Skipped++
			p.countRecord("skipped")
			p.logger.Warn("record skipped", "entry", i, "id", raw.PbancSn, "reason", reason)
			continue
		}
		orgID, newOrg, err := p.coord.EnsureOrganization(ctx, raw.OrgName, raw.OrgType)
		if err != nil {
			return res, fmt.Errorf("registering organization %q: %w", raw.OrgName, err)
		}
		if newOrg {
			res.NewOrgs++
		}
		created, updated, err := p.coord.Upsert(ctx, toAnnouncement(raw, orgID))
		if err != nil {
			if errors.Is(err, apperrors.ErrValidation) {
				res.Skipped++
				p.countRecord("skipped")
				p.logger.Warn("record skipped", "entry", i, "id", raw.PbancSn, "error", err)
				continue
			}
			return res, fmt.Errorf("upserting %s: %w", raw.PbancSn, err)
		}
		switch {
		case created:
			res.Created++
			p.countRecord("created")
		case updated:
			res.Updated++
			p.countRecord("updated")
		default:
			res.Unchanged++
			p.countRecord("unchanged")
		}
	}

	if err := p.coord.Flush(ctx); err != nil {
		p.countBatch("failed")
		return res, err
	}

	// Per-record indexing already kept the index current; the full
	// verification catches anything that slipped and repairs it.
	if err := p.coord.VerifyConsistency(ctx); err != nil {
		if !errors.Is(err, apperrors.ErrDivergence) {
			p.countBatch("failed")
			return res, err
		}
		p.logger.Warn("post-import divergence, rebuilding index", "error", err)
		if err := p.coord.RebuildIndex(ctx); err != nil {
			p.countBatch("failed")
			return res, err
		}
	}

	p.countBatch("ok")
	p.logger.Info("batch applied",
		"records", len(batch.Records),
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped", res.Skipped,
		"new_orgs", res.NewOrgs,
	)
	return res, nil
}

// ApplyFile loads a batch from the crawler's output file. The file may be a
// Batch envelope or a bare array of records.
func (p *Pipeline) ApplyFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	batch, err := DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p.Apply(ctx, batch)
}

// DecodeBatch parses a batch payload, accepting either the envelope form or
// a bare record array.
func DecodeBatch(data []byte) (Batch, error) {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err == nil && batch.Records != nil {
		return batch, nil
	}
	var records []RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return Batch{}, apperrors.Newf(apperrors.ErrSchema, 400, "parsing batch: %v", err)
	}
	return Batch{Records: records}, nil
}

// validate checks the feed's minimum contract; the returned reason is empty
// for a usable record.
func validate(r RawRecord) string {
	switch {
	case r.PbancSn == "":
		return "missing pbancSn"
	case r.Title == "":
		return "missing title"
	case r.OrgName == "":
		return "missing orgName"
	case r.ApplicationPeriod == "":
		return "missing applicationPeriod"
	}
	return ""
}

func toAnnouncement(r RawRecord, orgID string) catalog.Announcement {
	return catalog.Announcement{
		ID:                r.PbancSn,
		Title:             r.Title,
		OrgID:             orgID,
		OrgName:           r.OrgName,
		Description:       r.Description,
		SupportContent:    r.SupportContent,
		SupportField:      r.SupportField,
		Region:            r.Region,
		TargetAudience:    r.TargetAudience,
		ApplicationPeriod: r.ApplicationPeriod,
		Contact:           r.Contact,
		SourceURL:         r.SourceURL,
		Attachments:       r.Attachments,
		Status:            catalog.StatusActive,
	}
}

func (p *Pipeline) countRecord(result string) {
	if p.metrics != nil {
		p.metrics.ImportRecordsTotal.WithLabelValues(result).Inc()
	}
}

func (p *Pipeline) countBatch(outcome string) {
	if p.metrics != nil {
		p.metrics.ImportBatchesTotal.WithLabelValues(outcome).Inc()
	}
}
