// Package coordinator sequences every mutation so the primary stores and
// the inverted index move together. It is the sole writer entry point:
// direct CRUD, the import pipeline, and the query engine all go through it,
// under a single readers-writer lock spanning the store/index pair.
//
// Every mutation walks the same sequence: validate, write the store, sync
// the index, persist. A failure during validation or the store write leaves
// the pre-operation state; a failure after the store write landed flags the
// catalog divergent, and the only remediation is RebuildIndex.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/index"
	"github.com/jeongwoohan/grantcat/internal/store"
	"github.com/jeongwoohan/grantcat/pkg/config"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	"github.com/jeongwoohan/grantcat/pkg/metrics"
)

// Coordinator owns the announcement store, the organization store, and the
// inverted index, and keeps them mutually consistent.
type Coordinator struct {
	mu        sync.RWMutex
	anns      *store.Store[catalog.Announcement]
	orgs      *store.Store[catalog.Organization]
	idx       *index.Inverted
	orgByName map[string]string

	cfg      config.StoreConfig
	persist  bool
	loaded   bool
	diverged bool

	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	onCommit func()
}

// New creates an empty in-memory coordinator with no persistence, used by
// tests and one-shot tooling.
func New(m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		anns:      store.New[catalog.Announcement](),
		orgs:      store.New[catalog.Organization](),
		idx:       index.New(),
		orgByName: make(map[string]string),
		loaded:    true,
		logger:    logger.WithComponent("coordinator"),
		metrics:   m,
		now:       time.Now,
	}
}

// Open loads the persisted stores from cfg and rebuilds the inverted index
// from the announcement walk, comparing it against the persisted index. A
// store that fails to decode is a hard error: the coordinator refuses to
// serve partial state.
func Open(cfg config.StoreConfig, m *metrics.Metrics) (*Coordinator, error) {
	anns, err := store.Load(cfg.AnnouncementsPath(), catalog.DecodeAnnouncement,
		func(a catalog.Announcement) string { return a.ID })
	if err != nil {
		return nil, fmt.Errorf("loading announcements: %w", err)
	}
	orgs, err := store.Load(cfg.OrganizationsPath(), catalog.DecodeOrganization,
		func(o catalog.Organization) string { return o.ID })
	if err != nil {
		return nil, fmt.Errorf("loading organizations: %w", err)
	}

	c := &Coordinator{
		anns:      anns,
		orgs:      orgs,
		idx:       index.New(),
		orgByName: make(map[string]string, orgs.Len()),
		cfg:       cfg,
		persist:   true,
		logger:    logger.WithComponent("coordinator"),
		metrics:   m,
		now:       time.Now,
	}
	for id, org := range orgs.All() {
		c.orgByName[org.Name] = id
	}

	// Referential integrity is checked before serving a single read.
	for id, a := range anns.All() {
		if !orgs.Has(a.OrgID) {
			return nil, apperrors.Newf(apperrors.ErrSchema, 500,
				"announcement %s references unknown organization %s", id, a.OrgID)
		}
	}

	c.idx.Rebuild(anns.All())
	if persisted, err := loadIndex(cfg.IndexPath()); err != nil {
		c.logger.Warn("persisted index unreadable, rebuilt from store", "error", err)
	} else if persisted != nil && !c.idx.Equal(persisted) {
		c.logger.Warn("persisted index diverged from store, rebuilt",
			"entries", c.idx.EntryCount())
	}
	if err := c.persistIndex(); err != nil {
		return nil, fmt.Errorf("writing rebuilt index: %w", err)
	}

	c.loaded = true
	c.updateGauges()
	c.logger.Info("catalog loaded",
		"announcements", anns.Len(),
		"organizations", orgs.Len(),
		"index_entries", c.idx.EntryCount(),
	)
	return c, nil
}

// OnCommit registers a hook invoked after every committed mutation. The
// server uses it to invalidate the search cache.
func (c *Coordinator) OnCommit(fn func()) {
	c.onCommit = fn
}

// SetClock overrides the time source, for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Coordinator) ensureLoaded() error {
	if !c.loaded {
		return apperrors.New(apperrors.ErrStoreNotLoaded, 503, "catalog store has not loaded")
	}
	return nil
}

// Create validates and inserts a new announcement, assigning a generated id
// when the record carries none. The organization reference must resolve.
func (c *Coordinator) Create(ctx context.Context, a catalog.Announcement) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return "", err
	}

	if a.ID == "" {
		a.ID = "usr-" + uuid.NewString()
	}
	if c.anns.Has(a.ID) {
		return "", apperrors.Newf(apperrors.ErrAlreadyExists, 409, "announcement %s", a.ID)
	}

	orgID, ok := c.orgByName[a.OrgName]
	if !ok {
		return "", &apperrors.ValidationError{Fields: map[string]string{
			"org_name": fmt.Sprintf("unknown organization %q", a.OrgName),
		}}
	}
	a.OrgID = orgID

	now := c.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Deadline.IsZero() {
		a.Deadline, _ = catalog.ParseDeadline(a.ApplicationPeriod)
	}
	a.Status = catalog.DeriveStatus(a.Status, a.Deadline, now)

	if _, _, err := c.anns.Put(a.ID, a); err != nil {
		return "", err
	}
	c.idx.AddRecord(a)

	if err := c.persistAnnouncements(); err != nil {
		// The store write never reached disk: undo and report the
		// pre-operation state.
		c.idx.RemoveRecord(a)
		c.anns.Delete(a.ID)
		c.countMutation("create", "error")
		return "", err
	}
	if err := c.persistIndex(); err != nil {
		c.flagDiverged("create", a.ID, err)
		return a.ID, apperrors.Newf(apperrors.ErrDivergence, 500,
			"announcement %s stored but index sync failed; rebuild required", a.ID)
	}

	c.countMutation("create", "ok")
	c.commit()
	c.logger.Info("announcement created", "id", a.ID, "org_id", a.OrgID)
	return a.ID, nil
}

// Get returns the announcement for id with its status re-derived from the
// deadline.
func (c *Coordinator) Get(ctx context.Context, id string) (catalog.Announcement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureLoaded(); err != nil {
		return catalog.Announcement{}, err
	}
	a, ok := c.anns.Get(id)
	if !ok {
		return catalog.Announcement{}, apperrors.Newf(apperrors.ErrNotFound, 404, "announcement %s", id)
	}
	a.Status = catalog.DeriveStatus(a.Status, a.Deadline, c.now())
	return a, nil
}

// List returns every announcement in insertion order.
func (c *Coordinator) List(ctx context.Context) ([]catalog.Announcement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	now := c.now()
	result := make([]catalog.Announcement, 0, c.anns.Len())
	for _, a := range c.anns.All() {
		a.Status = catalog.DeriveStatus(a.Status, a.Deadline, now)
		result = append(result, a)
	}
	return result, nil
}

// UpdateRequest is a partial announcement change set; nil fields are left
// untouched.
type UpdateRequest struct {
	Title             *string         `json:"title,omitempty"`
	Description       *string         `json:"description,omitempty"`
	Status            *catalog.Status `json:"status,omitempty"`
	Region            *string         `json:"region,omitempty"`
	SupportField      *string         `json:"support_field,omitempty"`
	TargetAudience    *string         `json:"target_audience,omitempty"`
	ApplicationPeriod *string         `json:"application_period,omitempty"`
	Contact           *string         `json:"contact,omitempty"`
	SourceURL         *string         `json:"source_url,omitempty"`
}

// Update applies a partial change set to an existing announcement,
// refreshing only the index keys whose source field changed. It returns
// false when the change set was a no-op.
func (c *Coordinator) Update(ctx context.Context, id string, req UpdateRequest) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return false, err
	}

	prev, ok := c.anns.Get(id)
	if !ok {
		return false, apperrors.Newf(apperrors.ErrNotFound, 404, "announcement %s", id)
	}

	next := prev
	changed := false
	apply := func(dst *string, src *string) {
		if src != nil && *src != *dst {
			*dst = *src
			changed = true
		}
	}
	apply(&next.Title, req.Title)
	apply(&next.Description, req.Description)
	apply(&next.Region, req.Region)
	apply(&next.SupportField, req.SupportField)
	apply(&next.TargetAudience, req.TargetAudience)
	apply(&next.Contact, req.Contact)
	apply(&next.SourceURL, req.SourceURL)
	if req.ApplicationPeriod != nil && *req.ApplicationPeriod != next.ApplicationPeriod {
		next.ApplicationPeriod = *req.ApplicationPeriod
		next.Deadline, _ = catalog.ParseDeadline(next.ApplicationPeriod)
		changed = true
	}
	if req.Status != nil && *req.Status != next.Status {
		if !catalog.ValidStatus(*req.Status) {
			return false, &apperrors.ValidationError{Fields: map[string]string{
				"status": "status must be one of active, inactive, expired",
			}}
		}
		next.Status = *req.Status
		changed = true
	}
	if !changed {
		return false, nil
	}
	if next.Title == "" {
		return false, &apperrors.ValidationError{Fields: map[string]string{
			"title": "title is required",
		}}
	}

	// Snapshot before the destructive write so an aborted sequence can be
	// restored. Discarded on success.
	snapshot, err := catalog.EncodeAnnouncement(prev)
	if err != nil {
		return false, err
	}

	next.UpdatedAt = c.now()
	removed, added := diffBindings(prev, next)
	if _, _, err := c.anns.Put(id, next); err != nil {
		return false, err
	}
	for _, b := range removed {
		c.idx.Remove(b.Field, b.Value, id)
	}
	for _, b := range added {
		c.idx.Add(b.Field, b.Value, id)
	}

	if err := c.persistAnnouncements(); err != nil {
		c.restore(snapshot, removed, added)
		c.countMutation("update", "error")
		return false, err
	}
	if len(removed)+len(added) > 0 {
		if err := c.persistIndex(); err != nil {
			c.flagDiverged("update", id, err)
			return true, apperrors.Newf(apperrors.ErrDivergence, 500,
				"announcement %s updated but index sync failed; rebuild required", id)
		}
	}

	c.countMutation("update", "ok")
	c.commit()
	c.logger.Info("announcement updated", "id", id,
		"index_keys_removed", len(removed), "index_keys_added", len(added))
	return true, nil
}

// Delete removes an announcement and purges its id from every index key it
// populated, using the pre-delete snapshot to enumerate the bindings.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	prev, ok := c.anns.Get(id)
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, 404, "announcement %s", id)
	}
	snapshot, err := catalog.EncodeAnnouncement(prev)
	if err != nil {
		return err
	}

	c.anns.Delete(id)
	c.idx.RemoveRecord(prev)

	if err := c.persistAnnouncements(); err != nil {
		c.restore(snapshot, index.Bindings(prev), nil)
		c.countMutation("delete", "error")
		return err
	}
	if err := c.persistIndex(); err != nil {
		c.flagDiverged("delete", id, err)
		return apperrors.Newf(apperrors.ErrDivergence, 500,
			"announcement %s deleted but index sync failed; rebuild required", id)
	}

	c.countMutation("delete", "ok")
	c.commit()
	c.logger.Info("announcement deleted", "id", id)
	return nil
}

// restore re-applies a pre-mutation snapshot after a failed persist,
// reversing the given index binding changes.
func (c *Coordinator) restore(snapshot []byte, removed, added []index.Binding) {
	prev, err := catalog.DecodeAnnouncement(snapshot)
	if err != nil {
		// The snapshot was produced by the codec moments ago, so this is
		// unreachable short of memory corruption; flag rather than guess.
		c.diverged = true
		c.logger.Error("snapshot restore failed", "error", err)
		return
	}
	for _, b := range added {
		c.idx.Remove(b.Field, b.Value, prev.ID)
	}
	for _, b := range removed {
		c.idx.Add(b.Field, b.Value, prev.ID)
	}
	c.anns.Put(prev.ID, prev)
}

// diffBindings returns the index keys present only on prev (to remove) and
// only on next (to add); keys whose source field is unchanged appear in
// neither list.
func diffBindings(prev, next catalog.Announcement) (removed, added []index.Binding) {
	oldSet := make(map[index.Binding]struct{})
	for _, b := range index.Bindings(prev) {
		oldSet[b] = struct{}{}
	}
	for _, b := range index.Bindings(next) {
		if _, ok := oldSet[b]; ok {
			delete(oldSet, b)
		} else {
			added = append(added, b)
		}
	}
	for b := range oldSet {
		removed = append(removed, b)
	}
	return removed, added
}

func (c *Coordinator) flagDiverged(op, id string, err error) {
	c.diverged = true
	if c.metrics != nil {
		c.metrics.IndexDiverged.Set(1)
		c.metrics.MutationsTotal.WithLabelValues(op, "diverged").Inc()
	}
	c.logger.Error("index sync failed after store write, catalog flagged divergent",
		"op", op, "id", id, "error", err)
}

func (c *Coordinator) countMutation(op, outcome string) {
	if c.metrics != nil {
		c.metrics.MutationsTotal.WithLabelValues(op, outcome).Inc()
	}
	c.updateGauges()
}

func (c *Coordinator) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.AnnouncementsTotal.Set(float64(c.anns.Len()))
	c.metrics.OrganizationsTotal.Set(float64(c.orgs.Len()))
	c.metrics.IndexEntries.Set(float64(c.idx.EntryCount()))
	if c.diverged {
		c.metrics.IndexDiverged.Set(1)
	} else {
		c.metrics.IndexDiverged.Set(0)
	}
}

func (c *Coordinator) commit() {
	if c.onCommit != nil {
		c.onCommit()
	}
}
