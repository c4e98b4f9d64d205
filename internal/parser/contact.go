package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mcnijman/go-emailaddress"
)

const (
	minPhoneLength   = 10
	minAddressLength = 10
	maxAddressLength = 300
)

// ContactParser extracts Vietnamese phone numbers, emails and addresses
// using ordered pattern sets.
type ContactParser struct {
	phonePatterns   []*regexp.Regexp
	emailPattern    *regexp.Regexp
	addressPatterns []*regexp.Regexp
	tagPattern      *regexp.Regexp
	blockedEmails   []string
}

var _ FieldExtractor = (*ContactParser)(nil)

func NewContactParser() *ContactParser {
	return &ContactParser{
		phonePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:\+84|84|0)[\s.\-]?[1-9]\d{1,2}[\s.\-]?\d{3}[\s.\-]?\d{3,4}`),
			regexp.MustCompile(`0[1-9]\d{8,9}`),
			regexp.MustCompile(`\+84[1-9]\d{8,9}`),
		},
		emailPattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		addressPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Địa chỉ[:\s]+([^\n<>]{20,200})`),
			regexp.MustCompile(`(?i)Address[:\s]+([^\n<>]{20,200})`),
			regexp.MustCompile(`(?i)\d+\s+(?:Phố|Đường|P\.|Quận|Q\.)[^\n<>]{10,150}`),
			regexp.MustCompile(`(?i)(?:Số|số)\s+\d+[,\s]+(?:Phố|Đường|phố|đường)[^\n<>]{10,150}`),
		},
		tagPattern:    regexp.MustCompile(`<[^>]+>`),
		blockedEmails: []string{"example.com", "test.com", "domain.com", "sampleemail"},
	}
}

// NormalizePhone keeps digits and a leading plus sign. It is idempotent.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractPhones returns every distinct phone in first-seen order, applying
// the patterns in priority order.
func (p *ContactParser) ExtractPhones(text string) []string {
	var phones []string
	seen := make(map[string]struct{})

	for _, pattern := range p.phonePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			phone := NormalizePhone(match)
			if len(phone) < minPhoneLength {
				continue
			}
			if _, ok := seen[phone]; ok {
				continue
			}
			seen[phone] = struct{}{}
			phones = append(phones, phone)
		}
	}

	return phones
}

// ExtractFirstPhone returns the first match of the first pattern that hits.
func (p *ContactParser) ExtractFirstPhone(text string) string {
	for _, pattern := range p.phonePatterns {
		if match := pattern.FindString(text); match != "" {
			return NormalizePhone(match)
		}
	}
	return ""
}

// ExtractEmails returns distinct emails keeping the casing of the first occurrence.
func (p *ContactParser) ExtractEmails(text string) []string {
	var emails []string
	seen := make(map[string]struct{})

	for _, match := range p.emailPattern.FindAllString(text, -1) {
		if !p.acceptEmail(match) {
			continue
		}
		key := strings.ToLower(match)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		emails = append(emails, match)
	}

	return emails
}

// ExtractFirstEmail returns the first email that passes the blocklist and
// address validation.
func (p *ContactParser) ExtractFirstEmail(text string) string {
	for _, match := range p.emailPattern.FindAllString(text, -1) {
		if p.acceptEmail(match) {
			return match
		}
	}
	return ""
}

func (p *ContactParser) acceptEmail(email string) bool {
	lower := strings.ToLower(email)
	for _, blocked := range p.blockedEmails {
		if strings.Contains(lower, blocked) {
			return false
		}
	}
	if _, err := emailaddress.Parse(email); err != nil {
		return false
	}
	return true
}

// ExtractAddresses returns distinct addresses, compared case-insensitively.
func (p *ContactParser) ExtractAddresses(text string) []string {
	var addresses []string
	seen := make(map[string]struct{})

	for _, pattern := range p.addressPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			address, ok := p.cleanAddress(match)
			if !ok {
				continue
			}
			key := strings.ToLower(address)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			addresses = append(addresses, address)
		}
	}

	return addresses
}

func (p *ContactParser) ExtractFirstAddress(text string) string {
	for _, pattern := range p.addressPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		if address, ok := p.cleanAddress(match); ok {
			return address
		}
	}
	return ""
}

// cleanAddress picks the capture group when the pattern has one, strips tags
// and applies the length window.
func (p *ContactParser) cleanAddress(match []string) (string, bool) {
	address := match[0]
	if len(match) > 1 {
		address = match[1]
	}
	address = strings.TrimSpace(p.StripTags(address))
	n := utf8.RuneCountInString(address)
	if n <= minAddressLength || n >= maxAddressLength {
		return "", false
	}
	return address, true
}

func (p *ContactParser) StripTags(s string) string {
	return p.tagPattern.ReplaceAllString(s, "")
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
