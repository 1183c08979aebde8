package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// DefaultMaxDescriptionLength caps stored descriptions, in runes.
const DefaultMaxDescriptionLength = 500

// Record is any corpus source shape that can be mapped to a raw product record.
type Record interface {
	Raw() domain.RawProductRecord
}

// CSVRow is one row of the catalog CSV export
// (url,name,category,brand,img,description,price).
type CSVRow struct {
	URL         string `csv:"url"`
	Name        string `csv:"name"`
	Category    string `csv:"category"`
	Brand       string `csv:"brand"`
	Img         string `csv:"img"`
	Description string `csv:"description"`
	Price       string `csv:"price"`
}

// Raw maps the row. CSV rows carry no ID; one is derived from the URL.
func (r CSVRow) Raw() domain.RawProductRecord {
	return domain.RawProductRecord{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Brand:       r.Brand,
		Price:       r.Price,
		ImageURL:    r.Img,
		SourceURL:   r.URL,
	}
}

// ScrapedListing is a product scraped from a shop page.
type ScrapedListing struct {
	Title    string  `json:"title"`
	Link     string  `json:"link"`
	Image    string  `json:"image"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Store    string  `json:"store"`
	Category string  `json:"category"`
	Brand    string  `json:"brand"`
	Snippet  string  `json:"snippet"`
}

// Raw maps the listing. The store name becomes the market.
func (s ScrapedListing) Raw() domain.RawProductRecord {
	return domain.RawProductRecord{
		Name:        s.Title,
		Description: s.Snippet,
		Category:    s.Category,
		Brand:       s.Brand,
		Price:       strconv.FormatFloat(s.Price, 'f', -1, 64),
		ImageURL:    s.Image,
		SourceURL:   s.Link,
		Market:      s.Store,
	}
}

// MarketplaceRecord is a product listed by a marketplace seller.
type MarketplaceRecord struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Brand       string  `json:"brand"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
	Seller      string  `json:"seller"`
}

// Raw maps the record, keeping the marketplace ID.
func (m MarketplaceRecord) Raw() domain.RawProductRecord {
	return domain.RawProductRecord{
		ID:          fmt.Sprintf("mkt-%d", m.ID),
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Brand:       m.Brand,
		Price:       strconv.FormatFloat(m.Price, 'f', -1, 64),
		ImageURL:    m.ImageURL,
		Market:      m.Seller,
	}
}

// RawRecords maps every source record to its raw form.
func RawRecords[T Record](records []T) []domain.RawProductRecord {
	out := make([]domain.RawProductRecord, len(records))
	for i, r := range records {
		out[i] = r.Raw()
	}
	return out
}

// currencyTokens are removed before a price is parsed. Longer tokens come
// first so "TND" is stripped before "DT" could split it.
var currencyTokens = []string{"TND", "EUR", "USD", "DT", "€", "$", "£"}

// ParsePrice parses a textual price such as "1 299,500 DT", "€12.50" or
// "1,299.99". A lone comma is a decimal separator; when both separators
// appear the last one is the decimal point.
func ParsePrice(s string) (float64, error) {
	clean := strings.ToUpper(strings.TrimSpace(s))
	for _, tok := range currencyTokens {
		clean = strings.ReplaceAll(clean, tok, "")
	}
	clean = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, clean)
	if clean == "" {
		return 0, domain.ValidationError(fmt.Sprintf("price %q is empty", s), nil)
	}

	comma := strings.LastIndex(clean, ",")
	dot := strings.LastIndex(clean, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		clean = strings.ReplaceAll(clean, ",", "")
	case strings.Count(clean, ",") == 1:
		clean = strings.Replace(clean, ",", ".", 1)
	case comma >= 0:
		clean = strings.ReplaceAll(clean, ",", "")
	}

	price, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, domain.ValidationError(fmt.Sprintf("price %q is not a number", s), err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, domain.ValidationError(fmt.Sprintf("price %q is not a finite number", s), nil)
	}
	if price < 0 {
		return 0, domain.ValidationError(fmt.Sprintf("price %q is negative", s), nil)
	}
	return price, nil
}

// Normalize validates a raw record and converts it to a product. Name and a
// non-negative price are required; the description is cut to maxDescription
// runes. Records without an ID get one derived from their URL, or from their
// name and price when no URL is present.
func Normalize(rec domain.RawProductRecord, maxDescription int) (domain.Product, error) {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return domain.Product{}, domain.ValidationError("name is required", nil)
	}

	price, err := ParsePrice(rec.Price)
	if err != nil {
		return domain.Product{}, err
	}

	if maxDescription <= 0 {
		maxDescription = DefaultMaxDescriptionLength
	}

	p := domain.Product{
		ID:          strings.TrimSpace(rec.ID),
		Name:        name,
		Description: truncateRunes(strings.TrimSpace(rec.Description), maxDescription),
		Category:    strings.TrimSpace(rec.Category),
		Brand:       strings.TrimSpace(rec.Brand),
		Price:       price,
		ImageURL:    strings.TrimSpace(rec.ImageURL),
		SourceURL:   strings.TrimSpace(rec.SourceURL),
		Market:      strings.TrimSpace(rec.Market),
	}
	if p.ID == "" {
		p.ID = deriveID(p)
	}
	return p, nil
}

func deriveID(p domain.Product) string {
	seed := p.SourceURL
	if seed == "" {
		seed = NormalizeName(p.Name) + "|" + strconv.FormatFloat(p.Price, 'f', -1, 64)
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:8])
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
