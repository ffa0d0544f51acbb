// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// Page limits shared by the listing endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a valid int. Surrounding whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Window is a normalized page request.
type Window struct {
	Page int
	Size int
}

// NewWindow clamps page to >= 1 and size to [1, MaxPageSize]. A non-positive
// size becomes DefaultPageSize.
func NewWindow(page, size int) Window {
	if size <= 0 {
		size = DefaultPageSize
	}
	return Window{Page: max(page, 1), Size: min(size, MaxPageSize)}
}

// ParseWindow builds a Window from raw query values.
func ParseWindow(page, size string) Window {
	return NewWindow(AtoiDefault(page, 1), AtoiDefault(size, DefaultPageSize))
}

// Offset is the number of rows to skip.
func (w Window) Offset() int { return (w.Page - 1) * w.Size }

// TotalPages returns how many pages of w.Size cover total rows.
func (w Window) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(w.Size) - 1) / int64(w.Size))
}
