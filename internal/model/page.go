package model

// Paging is the cursor metadata attached to a paged response.
type Paging struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
	Total  int    `json:"total,omitempty"`
}

// Page is one page of a cursor-paginated collection.
type Page[T any] struct {
	Data   []T
	Paging Paging
}

// TransactionFilter selects the transactions a paged fetch returns. Pages are
// ordered newest first: transaction date descending, then ID descending.
type TransactionFilter struct {
	AccountIDs     []int64
	TransactionIDs []int64
	FromDate       string
	ToDate         string
	Status         TransactionStatus
	Size           int
	Before         string
	After          string
}

// PaginationInfo summarises a completed pagination walk.
type PaginationInfo struct {
	Pages     int
	Total     int
	FirstID   int64
	LastID    int64
	FirstDate string
	LastDate  string
	// Truncated is set when the walk stopped at the page cap rather than at
	// the end of the collection.
	Truncated bool
}
