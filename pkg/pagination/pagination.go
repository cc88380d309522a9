// Package pagination reads limit/offset query parameters and wraps list
// responses in a paged envelope.
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
}

// FromContext extracts ?limit and ?offset from the echo context, clamping
// them to [1, MaxLimit] and [0, ∞).
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Links points at the neighbouring pages, when they exist.
type Links struct {
	Self     string `json:"self"`
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

// WithLinks adds page links relative to basePath (e.g. "/api/v1/reports").
// Previous is clamped to offset 0; Next is omitted on the last page. Any
// filter values are carried into every link.
func (r *Response) WithLinks(basePath string, filters ...url.Values) *Response {
	link := func(offset int) string {
		q := url.Values{}
		for _, f := range filters {
			for k, vs := range f {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
		}
		q.Set("limit", strconv.Itoa(r.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return basePath + "?" + q.Encode()
	}
	r.Links = &Links{Self: link(r.Offset)}
	if r.HasMore {
		r.Links.Next = link(r.Offset + r.Limit)
	}
	if r.Offset > 0 {
		r.Links.Previous = link(max(r.Offset-r.Limit, 0))
	}
	return r
}
