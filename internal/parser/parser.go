package parser

import (
	"time"

	"github.com/maltedev/business-contact-scraper/internal/models"
)

// FieldExtractor pulls contact fields out of raw page text or HTML.
// Absence of a match is an empty result, never an error.
type FieldExtractor interface {
	ExtractPhones(text string) []string
	ExtractEmails(text string) []string
	ExtractAddresses(text string) []string
	ExtractFirstPhone(text string) string
	ExtractFirstEmail(text string) string
	ExtractFirstAddress(text string) string
}

// SearchResult is one organic hit on a search engine result page.
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

// RegistryItem is a short list entry on a registry date page.
type RegistryItem struct {
	Business  models.Business
	DetailURL string
}

// RegistryDetail holds the supplementary fields of a registry detail page.
type RegistryDetail struct {
	Phone               string
	LegalRepresentative string
	IssueDate           *time.Time
	Status              string
	Address             string
}
