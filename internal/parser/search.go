package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

const (
	searchEngineHost       = "duckduckgo.com"
	searchResultSelector   = `article[data-testid="result"]`
	searchFallbackSelector = `li[data-layout="organic"] article[data-testid="result"]`
	searchTitleSelector    = `a[data-testid="result-title-a"]`
	searchSnippetSelector  = `[data-result="snippet"]`
	minSnippetPart         = 10
	minResultURLLength     = 10
)

// SearchURL builds the search engine query URL.
func SearchURL(query string) string {
	return "https://" + searchEngineHost + "/?q=" + url.QueryEscape(strings.TrimSpace(query)) + "&ia=web"
}

// ParseSearchResults returns at most limit resolved organic results in page order.
func ParseSearchResults(html string, limit int) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	articles := doc.Find(searchResultSelector)
	if articles.Length() == 0 {
		articles = doc.Find(searchFallbackSelector)
	}

	var results []SearchResult
	articles.EachWithBreak(func(i int, article *goquery.Selection) bool {
		if limit > 0 && len(results) >= limit {
			return false
		}

		link := article.Find(searchTitleSelector).First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target, ok := ResolveResultURL(href)
		if !ok {
			return true
		}

		title := strings.TrimSpace(link.Find("span").First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		if title == "" {
			title = target
		}

		results = append(results, SearchResult{
			URL:     target,
			Title:   title,
			Snippet: snippetText(article.Find(searchSnippetSelector).First()),
		})
		return true
	})

	return results, nil
}

func snippetText(container *goquery.Selection) string {
	if container.Length() == 0 {
		return ""
	}
	var parts []string
	container.Find("span").Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		if len([]rune(text)) > minSnippetPart {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return collapseSpace(container.Text())
}

// ResolveResultURL returns the real destination of a result link. Engine
// redirect links are decoded from their uddg parameter; any other link on the
// engine's own host is rejected.
func ResolveResultURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	if u.Host == "" || isEngineHost(u.Hostname()) {
		if !strings.HasPrefix(u.Path, "/l/") && !strings.HasPrefix(u.Path, "/y.js") {
			return "", false
		}
		target := u.Query().Get("uddg")
		if target == "" {
			return "", false
		}
		raw = target
	}

	if !strings.HasPrefix(raw, "http") || len(raw) <= minResultURLLength {
		return "", false
	}
	return raw, true
}

func isEngineHost(host string) bool {
	host = strings.ToLower(host)
	return host == searchEngineHost || strings.HasSuffix(host, "."+searchEngineHost)
}

// BuildSearchCandidates turns one fetched result page into candidate records.
// Each distinct phone becomes a record, paired by index with the email and
// address found at the same position. A page without phones is treated as a
// single entity and yields at most one record from its best email and address.
func BuildSearchCandidates(fx FieldExtractor, content string, result SearchResult) []models.Business {
	phones := fx.ExtractPhones(content)

	host := hostOf(result.URL)
	base := func(name string) models.Business {
		if name == "" {
			name = host
		}
		return models.Business{
			Name:        name,
			Website:     result.URL,
			Description: result.Snippet,
			Source:      models.SourceSearch,
		}
	}

	if len(phones) == 0 {
		email := fx.ExtractFirstEmail(content)
		address := fx.ExtractFirstAddress(content)
		if email == "" && address == "" {
			return nil
		}
		b := base(result.Title)
		b.Email = email
		b.Address = address
		return []models.Business{b}
	}

	emails := fx.ExtractEmails(content)
	addresses := fx.ExtractAddresses(content)

	candidates := make([]models.Business, 0, len(phones))
	for i, phone := range phones {
		name := result.Title
		if len(phones) > 1 {
			title := result.Title
			if title == "" {
				title = host
			}
			name = fmt.Sprintf("%s #%d", title, i+1)
		}
		b := base(name)
		b.Phone = phone
		b.Email = at(emails, i)
		b.Address = at(addresses, i)
		candidates = append(candidates, b)
	}
	return candidates
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
