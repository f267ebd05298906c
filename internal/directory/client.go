// Package directory is a client for the W3C group directory API (api.w3.org), a HAL API
// paged with _links.next and page/pages counters.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/paging"
)

// Client reads groups and their services from the directory
type Client interface {
	// ListGroups iterates over the currently open groups, with full records embedded
	ListGroups() *paging.Iterator[*domain.Group]

	// GetGroup retrieves an open or closed group; unknown groups are NOT_FOUND errors
	GetGroup(ctx context.Context, ref domain.GroupRef) (*domain.Group, error)

	// ListServices iterates over the services declared by a group
	ListServices(groupID int) *paging.Iterator[domain.Service]

	// GetService retrieves the full service record at href
	GetService(ctx context.Context, href string) (domain.Service, error)
}

type w3cClient struct {
	baseURL    string
	httpClient *http.Client
	retry      paging.RetryPolicy
}

// Option configures the directory client
type Option func(*w3cClient)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(w *w3cClient) { w.httpClient = c }
}

// WithRetryPolicy sets how rate-limited requests are retried
func WithRetryPolicy(p paging.RetryPolicy) Option {
	return func(w *w3cClient) { w.retry = p }
}

// NewClient creates a directory client for the API at baseURL
func NewClient(baseURL string, opts ...Option) Client {
	c := &w3cClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      paging.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type halLink struct {
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
}

type halPage struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Links struct {
		Next     *halLink  `json:"next"`
		Services []halLink `json:"services"`
	} `json:"_links"`
	Embedded struct {
		Groups []*domain.Group `json:"groups"`
	} `json:"_embedded"`
}

func (p *halPage) links() paging.Links {
	l := paging.Links{Page: p.Page, Pages: p.Pages}
	if p.Links.Next != nil {
		l.Next = p.Links.Next.Href
	}
	return l
}

// ListGroups iterates over the open groups
func (c *w3cClient) ListGroups() *paging.Iterator[*domain.Group] {
	fetch := func(ctx context.Context, href string) ([]*domain.Group, paging.Links, error) {
		var page halPage
		if err := c.getJSON(ctx, withEmbed(href), &page); err != nil {
			return nil, paging.Links{}, err
		}
		return page.Embedded.Groups, page.links(), nil
	}
	return paging.Hypermedia(c.baseURL+"/groups", fetch, c.retry)
}

// GetGroup retrieves a group by numeric id or by "type/shortname"
func (c *w3cClient) GetGroup(ctx context.Context, ref domain.GroupRef) (*domain.Group, error) {
	var path string
	if ref.IsNumeric() {
		path = strconv.Itoa(ref.ID)
	} else {
		category, shortname, ok := strings.Cut(ref.Identifier, "/")
		if !ok || category == "" || shortname == "" {
			return nil, apperrors.NewBadRequestError("invalid group reference " + ref.String())
		}
		path = url.PathEscape(category) + "/" + url.PathEscape(shortname)
	}

	raw, err := paging.Do(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		err := c.getJSON(ctx, withEmbed(c.baseURL+"/groups/"+path), &raw)
		return raw, err
	})
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", ref, err)
	}

	// the directory answers some unknown groups with a record that has no self link
	var probe struct {
		Links struct {
			Self *halLink `json:"self"`
		} `json:"_links"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Links.Self == nil {
		return nil, apperrors.NewNotFoundError("group " + ref.String())
	}

	var g domain.Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, apperrors.NewUpstreamError("decode group "+ref.String(), err)
	}
	return &g, nil
}

// ListServices iterates over the services of a group
func (c *w3cClient) ListServices(groupID int) *paging.Iterator[domain.Service] {
	fetch := func(ctx context.Context, href string) ([]domain.Service, paging.Links, error) {
		var page halPage
		if err := c.getJSON(ctx, href, &page); err != nil {
			return nil, paging.Links{}, err
		}
		services := make([]domain.Service, 0, len(page.Links.Services))
		for _, l := range page.Links.Services {
			services = append(services, domain.Service{Href: l.Href, Title: l.Title})
		}
		return services, page.links(), nil
	}
	return paging.Hypermedia(fmt.Sprintf("%s/groups/%d/services", c.baseURL, groupID), fetch, c.retry)
}

// GetService retrieves a service record
func (c *w3cClient) GetService(ctx context.Context, href string) (domain.Service, error) {
	return paging.Do(ctx, c.retry, func(ctx context.Context) (domain.Service, error) {
		var s domain.Service
		if err := c.getJSON(ctx, href, &s); err != nil {
			return domain.Service{}, err
		}
		s.Href = href
		return s, nil
	})
}

func withEmbed(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	q := u.Query()
	q.Set("embed", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *w3cClient) getJSON(ctx context.Context, href string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return apperrors.NewBadRequestError(err.Error())
	}
	req.Header.Set("Accept", "application/hal+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewUpstreamError("GET "+href, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(href)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitedError("GET "+href, retryAfter(resp))
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.NewUpstreamError(fmt.Sprintf("GET %s returned %s", href, resp.Status), fmt.Errorf("%s", body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return apperrors.NewUpstreamError("decode "+href, err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
