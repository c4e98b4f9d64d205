package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

// ErrNoName is returned when a map detail panel carries no usable business name.
var ErrNoName = errors.New("detail panel has no business name")

const panelNamePrefix = "Thông tin về"

var (
	ratingPattern    = regexp.MustCompile(`(?i)([\d,.]+)\s*(?:sao|stars?)`)
	reviewsPattern   = regexp.MustCompile(`(?i)([\d.,]+)\s*(?:bài đánh giá|reviews?)`)
	mapPhonePattern  = regexp.MustCompile(`[\d+\s\-()]{8,}`)
	coordAtPattern   = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
	coordDataPattern = regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`)
)

// ParseMapDetail reads the detail panel shown after a result tile was opened.
func ParseMapDetail(html, pageURL string) (*models.Business, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	name := mapName(doc)
	if name == "" {
		return nil, ErrNoName
	}

	business := &models.Business{
		Name:   name,
		MapURL: pageURL,
		Source: models.SourceMap,
	}

	if lat, lng, ok := ParseCoordinates(pageURL); ok {
		business.Latitude = &lat
		business.Longitude = &lng
	}

	if category := strings.TrimSpace(doc.Find(`button[jsaction*="category"]`).First().Text()); category != "" {
		if !strings.Contains(category, "Cập nhật") {
			business.Category = category
		}
	}

	if label, ok := doc.Find(`span.ZkP5Je[role="img"]`).First().Attr("aria-label"); ok {
		business.Rating, business.ReviewsCount = ParseRating(label)
	}

	if address := strings.TrimSpace(doc.Find(`button[data-item-id="address"] div.Io6YTe`).First().Text()); len([]rune(address)) > 5 {
		business.Address = address
	}

	if phone := strings.TrimSpace(doc.Find(`button[data-item-id^="phone"] div.Io6YTe`).First().Text()); phone != "" {
		if mapPhonePattern.MatchString(phone) {
			business.Phone = NormalizePhone(phone)
		}
	}

	if href, ok := doc.Find(`a[data-item-id="authority"]`).First().Attr("href"); ok {
		if href != "" && !strings.Contains(href, "google.com") {
			business.Website = href
		}
	}

	return business, nil
}

func mapName(doc *goquery.Document) string {
	name := strings.TrimSpace(doc.Find("h1.DUwDvf").First().Text())
	if name != "" && !models.IsPlaceholderName(name) {
		return name
	}

	label, ok := doc.Find(`div.m6QErb[role="region"]`).First().Attr("aria-label")
	if !ok || !strings.Contains(label, panelNamePrefix) {
		return ""
	}
	name = strings.TrimSpace(strings.Replace(label, panelNamePrefix, "", 1))
	if name == "" || models.IsPlaceholderName(name) {
		return ""
	}
	return name
}

// ParseRating reads "4,9 sao 31 bài đánh giá" style labels. The rating uses a
// comma decimal, review counts are dot grouped.
func ParseRating(label string) (*float64, int) {
	var rating *float64
	if m := ratingPattern.FindStringSubmatch(label); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			rating = &v
		}
	}

	reviews := 0
	if m := reviewsPattern.FindStringSubmatch(label); m != nil {
		digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
		if v, err := strconv.Atoi(digits); err == nil {
			reviews = v
		}
	}

	return rating, reviews
}

// ParseCoordinates finds latitude and longitude in a map URL.
func ParseCoordinates(url string) (float64, float64, bool) {
	for _, pattern := range []*regexp.Regexp{coordAtPattern, coordDataPattern} {
		m := pattern.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		lat, err1 := strconv.ParseFloat(m[1], 64)
		lng, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			return lat, lng, true
		}
	}
	return 0, 0, false
}

// MapSearchURL builds the listing URL for a query.
func MapSearchURL(query string) string {
	return "https://www.google.com/maps/search/" + strings.ReplaceAll(strings.TrimSpace(query), " ", "+")
}
