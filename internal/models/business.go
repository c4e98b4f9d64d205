package models

import (
	"strings"
	"time"
)

// SourceTag records which connector produced a record.
type SourceTag string

const (
	SourceMap      SourceTag = "map"
	SourceSearch   SourceTag = "search"
	SourceRegistry SourceTag = "registry"
)

func (s SourceTag) Valid() bool {
	switch s {
	case SourceMap, SourceSearch, SourceRegistry:
		return true
	}
	return false
}

// placeholderNames are UI labels the map panel shows in place of a business name.
var placeholderNames = map[string]struct{}{
	"kết quả": {},
	"results": {},
}

// IsPlaceholderName reports whether name is a known UI label rather than a business.
func IsPlaceholderName(name string) bool {
	_, ok := placeholderNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Business is a candidate record extracted from one page. Empty strings mean
// the field was not found; numeric optionals are pointers.
type Business struct {
	Name                string     `json:"name"`
	Phone               string     `json:"phone,omitempty"`
	Email               string     `json:"email,omitempty"`
	Address             string     `json:"address,omitempty"`
	TaxID               string     `json:"tax_id,omitempty"`
	LegalRepresentative string     `json:"legal_representative,omitempty"`
	IssueDate           *time.Time `json:"issue_date,omitempty"`
	Status              string     `json:"status,omitempty"`
	Website             string     `json:"website,omitempty"`
	Description         string     `json:"description,omitempty"`
	Rating              *float64   `json:"rating,omitempty"`
	ReviewsCount        int        `json:"reviews_count"`
	Category            string     `json:"category,omitempty"`
	MapURL              string     `json:"google_maps_url,omitempty"`
	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	Source              SourceTag  `json:"source"`
}

// Validate lists the rules the record breaks for its source.
func (b *Business) Validate() []string {
	var errors []string

	if strings.TrimSpace(b.Name) == "" {
		errors = append(errors, "name is required")
	}

	switch b.Source {
	case SourceSearch:
		if b.Phone == "" && b.Email == "" {
			errors = append(errors, "search record needs a phone or an email")
		}
	case SourceRegistry:
		if b.TaxID == "" {
			errors = append(errors, "registry record needs a tax id")
		}
	case SourceMap:
		if IsPlaceholderName(b.Name) {
			errors = append(errors, "map record has a placeholder name")
		}
	default:
		errors = append(errors, "unknown source tag")
	}

	return errors
}

func (b *Business) IsValid() bool {
	return len(b.Validate()) == 0
}
