package models

// MaxPageSize caps per_page on all paginated listings.
const MaxPageSize = 100

// PageRequest selects one page of a listing. Page is 1-based.
type PageRequest struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > MaxPageSize {
		p.PerPage = MaxPageSize
	}
	return p
}

// Offset returns the SQL offset for the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pagination is the envelope metadata shared by all paginated responses.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPagination computes the envelope for a normalized request and total count.
func NewPagination(req PageRequest, total int) Pagination {
	pages := total / req.PerPage
	if total%req.PerPage != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return Pagination{
		Page:       req.Page,
		PerPage:    req.PerPage,
		TotalItems: total,
		TotalPages: pages,
		HasNext:    req.Page < pages,
		HasPrev:    req.Page > 1,
	}
}
