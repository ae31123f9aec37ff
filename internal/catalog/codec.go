package catalog

import (
	"encoding/json"

	apperrors "github.com/jeongwoohan/grantcat/pkg/errors"
)

// DecodeAnnouncement parses the persisted form of an announcement and
// enforces required-field presence. Malformed input or missing required
// fields surface as ErrSchema; encode∘decode is the identity on anything
// this function accepts.
func DecodeAnnouncement(raw []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, apperrors.Newf(apperrors.ErrSchema, 500, "announcement: %v", err)
	}
	switch {
	case a.ID == "":
		return Announcement{}, apperrors.New(apperrors.ErrSchema, 500, "announcement: missing id")
	case a.Title == "":
		return Announcement{}, apperrors.Newf(apperrors.ErrSchema, 500, "announcement %s: missing title", a.ID)
	case a.OrgID == "" || a.OrgName == "":
		return Announcement{}, apperrors.Newf(apperrors.ErrSchema, 500, "announcement %s: missing organization reference", a.ID)
	case a.Status != "" && !ValidStatus(a.Status):
		return Announcement{}, apperrors.Newf(apperrors.ErrSchema, 500, "announcement %s: unknown status %q", a.ID, a.Status)
	}
	return a, nil
}

// EncodeAnnouncement renders an announcement into its persisted form.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchema, 500, "encoding announcement %s: %v", a.ID, err)
	}
	return data, nil
}

// DecodeOrganization parses the persisted form of an organization.
func DecodeOrganization(raw []byte) (Organization, error) {
	var o Organization
	if err := json.Unmarshal(raw, &o); err != nil {
		return Organization{}, apperrors.Newf(apperrors.ErrSchema, 500, "organization: %v", err)
	}
	if o.ID == "" || o.Name == "" {
		return Organization{}, apperrors.New(apperrors.ErrSchema, 500, "organization: missing id or name")
	}
	return o, nil
}

// EncodeOrganization renders an organization into its persisted form.
func EncodeOrganization(o Organization) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchema, 500, "encoding organization %s: %v", o.ID, err)
	}
	return data, nil
}

// Validate checks the business-level required fields of an announcement
// before it is accepted into the store. It returns a *ValidationError
// listing every failing field, or nil.
func (a Announcement) Validate() error {
	errs := make(map[string]string)
	if a.Title == "" {
		errs["title"] = "title is required"
	}
	if a.OrgName == "" {
		errs["org_name"] = "organization name is required"
	}
	if a.Status != "" && !ValidStatus(a.Status) {
		errs["status"] = "status must be one of active, inactive, expired"
	}
	if len(errs) > 0 {
		return &apperrors.ValidationError{Fields: errs}
	}
	return nil
}
