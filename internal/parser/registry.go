package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

const (
	registryDateLayout   = "2/1/2006"
	minDetailAddressLen  = 20
	registryItemSelector = "li:has(h3 > a)"
)

var (
	totalCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)tìm thấy\s+<label>([\d,.]+)</label>\s+hồ sơ`),
		regexp.MustCompile(`(?is)tìm thấy\s+([\d,.]+)\s+hồ sơ\s+công ty`),
		regexp.MustCompile(`(?is)tìm thấy\s+([\d,.]+)\s+hồ sơ`),
		regexp.MustCompile(`(?is)([\d,.]+)\s+hồ sơ\s+công ty`),
		regexp.MustCompile(`(?is)<h\d+[^>]*>.*?([\d,.]+)\s+hồ sơ.*?</h\d+>`),
	}
	totalCountTextPattern = regexp.MustCompile(`(?i)tìm thấy\s+([\d,.]+)\s+hồ sơ`)

	listAddressPattern = regexp.MustCompile(`(?s)Địa chỉ:\s*(.+?)(?:\n|Mã số thuế)`)
	listTaxIDPattern   = regexp.MustCompile(`Mã số thuế:\s*(\d+)`)

	detailPhonePattern  = regexp.MustCompile(`(?i)Điện thoại:\s*([0-9\s\-+]+)`)
	detailLegalPattern  = regexp.MustCompile(`(?i)Đại diện pháp luật:\s*([^\n]+)`)
	detailIssuePattern  = regexp.MustCompile(`(?i)Ngày cấp:\s*(\d{1,2}/\d{1,2}/\d{4})`)
	detailStatusPattern = regexp.MustCompile(`(?i)Trạng thái:\s*([^\n]+)`)
	detailAddrPattern   = regexp.MustCompile(`(?i)Địa chỉ(?:\s+thuế)?:\s*([^\n]{20,300})`)
)

// RegistryListURL builds the date listing URL. Page numbers start at 1 and
// the first page has no page suffix.
func RegistryListURL(base string, date time.Time, page int) string {
	u := fmt.Sprintf("%s/ngay-%d/%d/%d", strings.TrimRight(base, "/"), date.Day(), int(date.Month()), date.Year())
	if page >= 2 {
		u = fmt.Sprintf("%s/page-%d", u, page)
	}
	return u
}

// ParseTotalCount reads the total company count from the result heading. The
// HTML patterns are tried first, then the visible text. Zero means not found.
func ParseTotalCount(html, text string) int {
	for _, pattern := range totalCountPatterns {
		if n, ok := matchCount(pattern, html); ok {
			return n
		}
	}
	if n, ok := matchCount(totalCountTextPattern, text); ok {
		return n
	}
	return 0
}

func matchCount(pattern *regexp.Regexp, s string) (int, bool) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	digits := strings.NewReplacer(",", "", ".", "").Replace(m[1])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PlanPages returns how many list pages to visit: enough to cover the total,
// never more than maxPages (0 means unbounded) and never more than needed to
// reach maxResults.
func PlanPages(total, perPage, maxPages, maxResults int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	pages := ceilDiv(total, perPage)
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}
	if maxResults > 0 {
		if needed := ceilDiv(maxResults, perPage); needed < pages {
			pages = needed
		}
	}
	return pages
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// ParseRegistryList extracts the summary entries of one list page. Entries
// without a name or tax id are dropped.
func ParseRegistryList(html, baseURL string) ([]RegistryItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("br").ReplaceWithHtml("\n")

	base, _ := url.Parse(baseURL)

	var items []RegistryItem
	doc.Find(registryItemSelector).Each(func(_ int, li *goquery.Selection) {
		link := li.Find("h3 a").First()
		name := collapseSpace(link.Text())
		if name == "" {
			return
		}

		content := li.Find("p").First()
		if content.Length() == 0 {
			content = li.Find("div").First()
		}
		if content.Length() == 0 {
			return
		}
		text := content.Text()

		m := listTaxIDPattern.FindStringSubmatch(text)
		if m == nil {
			return
		}

		item := RegistryItem{
			Business: models.Business{
				Name:   name,
				TaxID:  m[1],
				Source: models.SourceRegistry,
			},
		}
		if a := listAddressPattern.FindStringSubmatch(text); a != nil {
			item.Business.Address = collapseSpace(a[1])
		}
		if href, ok := link.Attr("href"); ok && href != "" {
			item.DetailURL = absoluteURL(base, href)
			item.Business.Website = item.DetailURL
		}

		items = append(items, item)
	})

	return items, nil
}

func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// ParseRegistryDetail reads labelled fields from the visible text of a
// company detail page. The page describes one company, so the phone is the
// single best match inside the labelled field.
func ParseRegistryDetail(fx FieldExtractor, text string) RegistryDetail {
	var d RegistryDetail

	if m := detailPhonePattern.FindStringSubmatch(text); m != nil {
		d.Phone = fx.ExtractFirstPhone(m[1])
		if d.Phone == "" {
			d.Phone = NormalizePhone(m[1])
		}
	}
	if m := detailLegalPattern.FindStringSubmatch(text); m != nil {
		d.LegalRepresentative = strings.TrimSpace(m[1])
	}
	if m := detailIssuePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse(registryDateLayout, m[1]); err == nil {
			d.IssueDate = &t
		}
	}
	if m := detailStatusPattern.FindStringSubmatch(text); m != nil {
		d.Status = strings.TrimSpace(m[1])
	}
	if m := detailAddrPattern.FindStringSubmatch(text); m != nil {
		d.Address = strings.TrimSpace(m[1])
	}

	return d
}

// MergeRegistryDetail copies detail fields onto a summary record. The summary
// address is replaced only by a detail address longer than 20 characters.
func MergeRegistryDetail(b *models.Business, d RegistryDetail) {
	if d.Phone != "" {
		b.Phone = d.Phone
	}
	if d.LegalRepresentative != "" {
		b.LegalRepresentative = d.LegalRepresentative
	}
	if d.IssueDate != nil {
		b.IssueDate = d.IssueDate
	}
	if d.Status != "" {
		b.Status = d.Status
	}
	if utf8.RuneCountInString(d.Address) > minDetailAddressLen {
		b.Address = d.Address
	}
}
