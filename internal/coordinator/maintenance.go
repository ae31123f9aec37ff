package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/jeongwoohan/grantcat/internal/catalog"
	"github.com/jeongwoohan/grantcat/internal/index"
	"github.com/jeongwoohan/grantcat/internal/store"
	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
)

// AddOrganization registers an organization (or returns the existing id for
// the same name) and persists the organization store immediately.
func (c *Coordinator) AddOrganization(ctx context.Context, name, orgType string) (string, error) {
	if name == "" {
		return "", &apperrors.ValidationError{Fields: map[string]string{
			"name": "organization name is required",
		}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return "", err
	}
	id, created, err := c.ensureOrganizationLocked(name, orgType)
	if err != nil {
		return "", err
	}
	if created {
		if err := c.persistOrganizations(); err != nil {
			c.orgs.Delete(id)
			delete(c.orgByName, name)
			return "", err
		}
		c.updateGauges()
		c.commit()
	}
	return id, nil
}

// EnsureOrganization is the import-path variant of AddOrganization: it
// mutates memory only, leaving persistence to the batch-level Flush so a
// large import does not rewrite the store file per record. It reports
// whether the organization was newly registered.
func (c *Coordinator) EnsureOrganization(ctx context.Context, name, orgType string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return "", false, err
	}
	return c.ensureOrganizationLocked(name, orgType)
}

// ensureOrganizationLocked dedupes by name and resolves deterministic-id
// collisions between distinct names by suffixing.
func (c *Coordinator) ensureOrganizationLocked(name, orgType string) (id string, created bool, err error) {
	if id, ok := c.orgByName[name]; ok {
		return id, false, nil
	}
	id = catalog.OrgIDFor(name)
	for c.orgs.Has(id) {
		id += "X"
	}
	org := catalog.Organization{ID: id, Name: name, Type: orgType}
	if _, _, err := c.orgs.Put(id, org); err != nil {
		return "", false, err
	}
	c.orgByName[name] = id
	c.logger.Info("organization registered", "id", id, "name", name)
	return id, true, nil
}

// Organizations returns every organization in insertion order.
func (c *Coordinator) Organizations(ctx context.Context) ([]catalog.Organization, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	result := make([]catalog.Organization, 0, c.orgs.Len())
	for _, org := range c.orgs.All() {
		result = append(result, org)
	}
	return result, nil
}

// Upsert inserts or refreshes an imported announcement, maintaining the
// index incrementally. Memory-only like EnsureOrganization; the import
// pipeline calls Flush once per batch. Created/updated report what
// happened; an unchanged record is left untouched.
func (c *Coordinator) Upsert(ctx context.Context, a catalog.Announcement) (created, updated bool, err error) {
	if err := a.Validate(); err != nil {
		return false, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return false, false, err
	}
	if a.ID == "" {
		return false, false, &apperrors.ValidationError{Fields: map[string]string{
			"id": "imported records must carry their external serial",
		}}
	}
	if !c.orgs.Has(a.OrgID) {
		return false, false, &apperrors.ValidationError{Fields: map[string]string{
			"org_id": fmt.Sprintf("unknown organization %q", a.OrgID),
		}}
	}

	now := c.now()
	prev, existed := c.anns.Get(a.ID)
	if existed && prev.ContentEquals(a) {
		return false, false, nil
	}

	if existed {
		a.CreatedAt = prev.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Deadline.IsZero() {
		a.Deadline, _ = catalog.ParseDeadline(a.ApplicationPeriod)
	}
	a.Status = catalog.DeriveStatus(a.Status, a.Deadline, now)

	if _, _, err := c.anns.Put(a.ID, a); err != nil {
		return false, false, err
	}
	if existed {
		removed, added := diffBindings(prev, a)
		for _, b := range removed {
			c.idx.Remove(b.Field, b.Value, a.ID)
		}
		for _, b := range added {
			c.idx.Add(b.Field, b.Value, a.ID)
		}
	} else {
		c.idx.AddRecord(a)
	}
	c.countMutation("upsert", "ok")
	return !existed, existed, nil
}

// Flush persists all three stores. The import pipeline calls it at batch
// end; an interrupted batch leaves the files at their previous state and
// the batch is simply re-applied.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	if err := c.persistOrganizations(); err != nil {
		return err
	}
	if err := c.persistAnnouncements(); err != nil {
		return err
	}
	if err := c.persistIndex(); err != nil {
		c.flagDiverged("flush", "", err)
		return apperrors.New(apperrors.ErrDivergence, 500,
			"stores persisted but index write failed; rebuild required")
	}
	c.commit()
	return nil
}

// RebuildIndex reconstructs the inverted index from the full announcement
// walk. It is the remediation for any reported divergence and is safe to
// run repeatedly.
func (c *Coordinator) RebuildIndex(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	c.idx.Rebuild(c.anns.All())
	if err := c.persistIndex(); err != nil {
		return fmt.Errorf("persisting rebuilt index: %w", err)
	}
	c.diverged = false
	if c.metrics != nil {
		c.metrics.IndexRebuildsTotal.Inc()
	}
	c.updateGauges()
	c.commit()
	c.logger.Info("index rebuilt", "entries", c.idx.EntryCount())
	return nil
}

// VerifyConsistency compares the live index against a fresh rebuild and
// checks for orphaned ids. A mismatch is reported as a divergence error and
// flags the catalog; it is never silently repaired.
func (c *Coordinator) VerifyConsistency(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	orphans := 0
	for id := range c.idx.IDs() {
		if !c.anns.Has(id) {
			orphans++
		}
	}
	expected := index.New()
	expected.Rebuild(c.anns.All())
	if orphans == 0 && c.idx.Equal(expected) {
		return nil
	}
	c.diverged = true
	c.updateGauges()
	c.logger.Error("index divergence detected",
		"orphaned_ids", orphans,
		"live_entries", c.idx.EntryCount(),
		"expected_entries", expected.EntryCount(),
	)
	return apperrors.Newf(apperrors.ErrDivergence, 500,
		"index diverged from store (%d orphaned ids); rebuild required", orphans)
}

// Diverged reports whether a divergence has been flagged and not yet
// remediated by a rebuild.
func (c *Coordinator) Diverged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.diverged
}

// View is the read surface handed to the query engine: index lookups and
// record access over one consistent snapshot.
type View interface {
	Lookup(field, value string) []string
	Get(id string) (catalog.Announcement, bool)
	All() iter.Seq2[string, catalog.Announcement]
	Len() int
}

type view struct {
	c   *Coordinator
	now func() time.Time
}

func (v view) Lookup(field, value string) []string {
	return v.c.idx.Lookup(field, value)
}

func (v view) Get(id string) (catalog.Announcement, bool) {
	a, ok := v.c.anns.Get(id)
	if ok {
		a.Status = catalog.DeriveStatus(a.Status, a.Deadline, v.now())
	}
	return a, ok
}

func (v view) All() iter.Seq2[string, catalog.Announcement] {
	return func(yield func(string, catalog.Announcement) bool) {
		now := v.now()
		for id, a := range v.c.anns.All() {
			a.Status = catalog.DeriveStatus(a.Status, a.Deadline, now)
			if !yield(id, a) {
				return
			}
		}
	}
}

func (v view) Len() int {
	return v.c.anns.Len()
}

// Read runs fn under the shared lock against a consistent view of the
// store/index pair, so a multi-step search never observes a half-applied
// mutation.
func (c *Coordinator) Read(ctx context.Context, fn func(View) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	return fn(view{c: c, now: c.now})
}

// Stats summarises the catalog for the dashboard surface.
type Stats struct {
	Announcements int  `json:"announcements"`
	Organizations int  `json:"organizations"`
	Active        int  `json:"active"`
	Expired       int  `json:"expired"`
	Inactive      int  `json:"inactive"`
	ClosingSoon   int  `json:"closing_soon"`
	IndexEntries  int  `json:"index_entries"`
	Diverged      bool `json:"diverged"`
}

// Stats counts announcements by derived status plus the seven-day
// closing-soon window.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.ensureLoaded(); err != nil {
		return Stats{}, err
	}
	now := c.now()
	s := Stats{
		Announcements: c.anns.Len(),
		Organizations: c.orgs.Len(),
		IndexEntries:  c.idx.EntryCount(),
		Diverged:      c.diverged,
	}
	for _, a := range c.anns.All() {
		switch catalog.DeriveStatus(a.Status, a.Deadline, now) {
		case catalog.StatusActive:
			s.Active++
		case catalog.StatusExpired:
			s.Expired++
		case catalog.StatusInactive:
			s.Inactive++
		}
		if catalog.ClosingSoon(a.Deadline, now) {
			s.ClosingSoon++
		}
	}
	return s, nil
}

func (c *Coordinator) persistAnnouncements() error {
	if !c.persist {
		return nil
	}
	return store.Save(c.cfg.AnnouncementsPath(), c.anns, catalog.EncodeAnnouncement)
}

func (c *Coordinator) persistOrganizations() error {
	if !c.persist {
		return nil
	}
	return store.Save(c.cfg.OrganizationsPath(), c.orgs, catalog.EncodeOrganization)
}

func (c *Coordinator) persistIndex() error {
	if !c.persist {
		return nil
	}
	data, err := json.MarshalIndent(c.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	return store.WriteAtomic(c.cfg.IndexPath(), data)
}

// loadIndex reads the persisted index, returning (nil, nil) when the file
// does not exist yet.
func loadIndex(path string) (*index.Inverted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ix := index.New()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchema, 500, "parsing %s: %v", path, err)
	}
	return ix, nil
}
