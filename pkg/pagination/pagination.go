package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
	// Page is set when the caller paged with ?page= instead of ?offset=.
	Page int

	path  string
	query url.Values
}

// FromContext reads limit and offset from the query string. A 1-based page
// parameter is accepted in place of offset.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	p := Params{Limit: limit}
	if page, _ := strconv.Atoi(c.QueryParam("page")); page > 0 {
		p.Page = page
		p.Offset = (page - 1) * limit
	} else if offset, _ := strconv.Atoi(c.QueryParam("offset")); offset > 0 {
		p.Offset = offset
	}
	if req := c.Request(); req != nil && req.URL != nil {
		p.path = req.URL.Path
		p.query = req.URL.Query()
	}
	return p
}

// Links are ready-to-follow URLs for the neighbouring pages.
type Links struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   *Links      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// Respond builds the response for p and attaches page links that keep the
// caller's filters.
func (p Params) Respond(data interface{}, total int) *Response {
	r := NewResponse(data, total, p.Limit, p.Offset)
	if p.path == "" {
		return r
	}
	var links Links
	if p.HasNext(total) {
		links.Next = p.link(p.NextOffset())
	}
	if p.HasPrevious() {
		links.Previous = p.link(p.PreviousOffset())
	}
	if links != (Links{}) {
		r.Links = &links
	}
	return r
}

func (p Params) link(offset int) string {
	q := url.Values{}
	for k, v := range p.query {
		if k == "page" || k == "offset" || k == "limit" {
			continue
		}
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return p.path + "?" + q.Encode()
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}
