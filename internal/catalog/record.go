// Package catalog defines the announcement and organization records, their
// derived attributes (organization ids, deadlines, status), and the codec
// between records and their persisted form.
package catalog

import (
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Status is the lifecycle state of an announcement.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// Announcement is a single grant/support-program listing. The ID is the
// external serial number (pbancSn) for imported records, or a generated
// "usr-" id for records created through the API.
type Announcement struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	OrgID               string    `json:"org_id"`
	OrgName             string    `json:"org_name"`
	Description         string    `json:"description,omitempty"`
	SupportContent      []string  `json:"support_content,omitempty"`
	SupportField        string    `json:"support_field,omitempty"`
	Region              string    `json:"region,omitempty"`
	TargetAudience      string    `json:"target_audience,omitempty"`
	ApplicationPeriod   string    `json:"application_period,omitempty"`
	Deadline            time.Time `json:"deadline,omitzero"`
	Status              Status    `json:"status"`
	Contact             string    `json:"contact,omitempty"`
	SourceURL           string    `json:"source_url,omitempty"`
	Attachments         []string  `json:"attachments,omitempty"`
	SubmissionDocuments []string  `json:"submission_documents,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitzero"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}

// Organization is reference data for the body issuing announcements.
type Organization struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Website string `json:"website,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// OrgIDFor derives a stable organization id from its name, so repeated
// imports of the same organization map to one record. The scheme is the
// first three alphanumeric runes uppercased plus the name length; callers
// must still resolve collisions between distinct names (see the
// coordinator's EnsureOrganization).
func OrgIDFor(name string) string {
	var b strings.Builder
	count := 0
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		count++
		if count == 3 {
			break
		}
	}
	return "ORG_" + b.String() + strconv.Itoa(len([]rune(name)))
}

// periodLayouts are the date forms seen in feed application periods.
var periodLayouts = []string{
	"20060102",
	"2006-01-02",
	"2006.01.02",
	"20060102 15:04",
	"2006-01-02 15:04",
}

// ParseDeadline extracts the application deadline from a period string of
// the form "<start> ~ <end>" (or a bare end date). It returns the zero
// time and false when no date can be parsed.
func ParseDeadline(period string) (time.Time, bool) {
	period = strings.TrimSpace(period)
	if period == "" {
		return time.Time{}, false
	}
	candidate := period
	if i := strings.LastIndex(period, "~"); i >= 0 {
		candidate = strings.TrimSpace(period[i+1:])
	}
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DeriveStatus computes the effective status from the stored status and the
// deadline. An explicit inactive outranks the calendar; otherwise a past
// deadline means expired and everything else is active.
func DeriveStatus(stored Status, deadline time.Time, now time.Time) Status {
	if stored == StatusInactive {
		return StatusInactive
	}
	if !deadline.IsZero() && deadline.Before(truncateDay(now)) {
		return StatusExpired
	}
	return StatusActive
}

// ClosingSoon reports whether the deadline falls within the next seven
// days (inclusive), the window the dashboard highlights.
func ClosingSoon(deadline time.Time, now time.Time) bool {
	if deadline.IsZero() {
		return false
	}
	today := truncateDay(now)
	return !deadline.Before(today) && !deadline.After(today.AddDate(0, 0, 7))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SupportFields splits the comma-separated support-field attribute into
// individual index values.
func SupportFields(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}

// ContentEquals reports whether two announcements carry the same source
// content, ignoring derived attributes (deadline, status) and timestamps.
// The import pipeline uses it to tell a genuine update from a re-crawl of
// unchanged data.
func (a Announcement) ContentEquals(b Announcement) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.OrgID == b.OrgID &&
		a.OrgName == b.OrgName &&
		a.Description == b.Description &&
		a.SupportField == b.SupportField &&
		a.Region == b.Region &&
		a.TargetAudience == b.TargetAudience &&
		a.ApplicationPeriod == b.ApplicationPeriod &&
		a.Contact == b.Contact &&
		a.SourceURL == b.SourceURL &&
		slices.Equal(a.SupportContent, b.SupportContent) &&
		slices.Equal(a.Attachments, b.Attachments) &&
		slices.Equal(a.SubmissionDocuments, b.SubmissionDocuments)
}

// ValidStatus reports whether s is one of the known status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusExpired:
		return true
	}
	return false
}
