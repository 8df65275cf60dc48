package crud

import (
	"net/url"
	"strconv"
)

// Page selects a window of a listing. A nil Limit means no upper bound.
type Page struct {
	Skip  int
	Limit *int
}

// NormalizePage validates skip and limit and applies maxPageSize: when it is positive, an omitted
// or larger limit is clamped to it. With maxPageSize 0 the limit passes through unchanged.
func NormalizePage(skip int, limit *int, maxPageSize int) (Page, error) {
	if skip < 0 {
		return Page{}, &ValidationError{Field: "skip", Message: "must be greater than or equal to 0"}
	}
	if limit != nil && *limit <= 0 {
		return Page{}, &ValidationError{Field: "limit", Message: "must be greater than 0"}
	}

	p := Page{Skip: skip}
	if limit != nil {
		l := *limit
		p.Limit = &l
	}
	if maxPageSize > 0 && (p.Limit == nil || *p.Limit > maxPageSize) {
		l := maxPageSize
		p.Limit = &l
	}
	return p, nil
}

// ParsePage reads the skip and limit query parameters.
func ParsePage(q url.Values, maxPageSize int) (Page, error) {
	skip := 0
	if raw := q.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Page{}, &ValidationError{Field: "skip", Message: "value is not a valid integer"}
		}
		skip = n
	}

	var limit *int
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Page{}, &ValidationError{Field: "limit", Message: "value is not a valid integer"}
		}
		limit = &n
	}
	return NormalizePage(skip, limit, maxPageSize)
}

// Limited returns a page of at most n items starting at skip.
func Limited(skip, n int) Page {
	return Page{Skip: skip, Limit: &n}
}

// Bounds returns the [lo, hi) slice bounds of the page over a listing of n items.
func (p Page) Bounds(n int) (lo, hi int) {
	lo = min(p.Skip, n)
	hi = n
	if p.Limit != nil && *p.Limit < n-lo {
		hi = lo + *p.Limit
	}
	return lo, hi
}
