package rotation

// DefaultPageSize matches the server's fixed page size.
const DefaultPageSize = 10

// Cursor tracks progress through a paged listing. Termination is derived
// from the server-reported total, never from comparing a page's length
// against the page size: the two disagree when the item count is an exact
// multiple of the page size.
type Cursor struct {
	Page     int
	PageSize int
	Total    int
	Fetched  int
}

// NewCursor returns a cursor positioned on the first page.
func NewCursor(pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{Page: 1, PageSize: pageSize, Total: -1}
}

// Advance records a fetched page of n items with the server-reported total
// and moves to the next page.
func (c *Cursor) Advance(n, total int) {
	c.Fetched += n
	c.Total = total
	c.Page++
}

// Done reports whether every item has been fetched. It is false until the
// first page has been seen.
func (c *Cursor) Done() bool {
	return c.Total >= 0 && c.Fetched >= c.Total
}
