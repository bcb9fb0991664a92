// Package collection talks to the paged collection API and resolves records
// to IIIF image URLs.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultAPIBaseURL is the public collection API.
const DefaultAPIBaseURL = "https://api.artic.edu/api/v1"

// DefaultIIIFURL is used until the API announces its own image server.
const DefaultIIIFURL = "https://www.artic.edu/iiif/2"

// Getter performs a GET and returns the whole body.
type Getter interface {
	GetBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error)
}

// Config holds the API client configuration.
type Config struct {
	BaseURL string
	IIIFURL string
	Fields  []string
}

// Client fetches artwork pages from the collection API.
type Client struct {
	getter  Getter
	baseURL string
	fields  []string
	logger  zerolog.Logger

	mu      sync.RWMutex
	iiifURL string
}

type paginationJSON struct {
	Total       int `json:"total"`
	Limit       int `json:"limit"`
	Offset      int `json:"offset"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
}

type artworksResponse struct {
	Pagination paginationJSON `json:"pagination"`
	Data       []Record       `json:"data"`
	Config     struct {
		IIIFURL string `json:"iiif_url"`
	} `json:"config"`
}

// NewClient creates a collection API client.
func NewClient(getter Getter, cfg Config) (*Client, error) {
	if getter == nil {
		return nil, errors.New("getter is required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}

	iiif := cfg.IIIFURL
	if iiif == "" {
		iiif = DefaultIIIFURL
	}

	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}

	return &Client{
		getter:  getter,
		baseURL: strings.TrimRight(base, "/"),
		fields:  fields,
		iiifURL: iiif,
		logger:  log.With().Str("component", "collection").Logger(),
	}, nil
}

// PageURL builds the artworks URL for req.
func (c *Client) PageURL(req PageRequest) string {
	fields := req.Fields
	if len(fields) == 0 {
		fields = c.fields
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("fields", strings.Join(fields, ","))

	return c.baseURL + "/artworks?" + q.Encode()
}

// FetchPage retrieves one page of artworks.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page request: %w", err)
	}

	pageURL := c.PageURL(req)

	body, _, err := c.getter.GetBytes(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", req.Page, err)
	}

	page, err := decodePage(body)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("url", pageURL).
			Int("page", req.Page).
			Msg("Failed to decode collection page")
		return nil, fmt.Errorf("decode page %d: %w", req.Page, err)
	}

	if page.IIIFURL != "" {
		c.mu.Lock()
		c.iiifURL = page.IIIFURL
		c.mu.Unlock()
	}

	c.logger.Debug().
		Int("page", req.Page).
		Int("limit", req.Limit).
		Int("count", len(page.Records)).
		Int("total", page.Total).
		Msg("Fetched collection page")

	return page, nil
}

// IIIFURL returns the current image server base.
func (c *Client) IIIFURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.iiifURL
}

// ImageURL returns the image URL for rec under the current image server base.
func (c *Client) ImageURL(rec Record) (string, error) {
	if !rec.HasImage() {
		return "", fmt.Errorf("record %d: %w", rec.ID, ErrMissingResource)
	}
	return ImageURL(c.IIIFURL(), strings.TrimSpace(*rec.ImageID)), nil
}

func decodePage(body []byte) (*Page, error) {
	var resp artworksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: missing data array", ErrDecode)
	}

	return &Page{
		Records:     resp.Data,
		Total:       resp.Pagination.Total,
		Limit:       resp.Pagination.Limit,
		Offset:      resp.Pagination.Offset,
		TotalPages:  resp.Pagination.TotalPages,
		CurrentPage: resp.Pagination.CurrentPage,
		IIIFURL:     resp.Config.IIIFURL,
	}, nil
}
