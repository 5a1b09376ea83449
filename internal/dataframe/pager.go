package dataframe

import (
	"context"
	"errors"
)

// DefaultPageSize is used when a Pager is created with a non-positive size.
const DefaultPageSize = 10

// FetchFunc loads limit rows starting at skip.
type FetchFunc func(ctx context.Context, skip, limit int) (Frame, error)

// Pager turns page numbers into fetches. Every page turn issues a new
// request; nothing is sliced client side.
//
// The backend reports no total count, so IsLastPage infers the end from a
// short page. A final page holding exactly pageSize rows is reported as not
// last; the next Load then returns an empty frame.
type Pager struct {
	fetch    FetchFunc
	pageSize int

	page     int
	frame    Frame
	loaded   bool
	err      error
	resetKey uint64
}

// NewPager returns a Pager over fetch.
func NewPager(fetch FetchFunc, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{fetch: fetch, pageSize: pageSize}
}

// PageSize returns the number of rows requested per page.
func (p *Pager) PageSize() int { return p.pageSize }

// Page returns the zero-based page last requested.
func (p *Pager) Page() int { return p.page }

// Load fetches page. On error the cached frame is cleared so stale rows are
// never shown next to an error.
func (p *Pager) Load(ctx context.Context, page int) (Frame, error) {
	if page < 0 {
		return Frame{}, errors.New("dataframe: negative page")
	}
	if p.fetch == nil {
		return Frame{}, errors.New("dataframe: pager has no fetch function")
	}

	f, err := p.fetch(ctx, page*p.pageSize, p.pageSize)
	p.Store(page, f, err)
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Store records the outcome of a fetch for page made outside Load. An error
// clears the cached frame.
func (p *Pager) Store(page int, f Frame, err error) {
	p.page = page
	if err != nil {
		p.frame, p.loaded, p.err = Frame{}, false, err
		return
	}
	p.frame, p.loaded, p.err = f, true, nil
}

// Window returns the skip and limit of page.
func (p *Pager) Window(page int) (skip, limit int) {
	return page * p.pageSize, p.pageSize
}

// Frame returns the cached frame and whether one is loaded.
func (p *Pager) Frame() (Frame, bool) {
	return p.frame, p.loaded
}

// Err returns the error of the last Load.
func (p *Pager) Err() error { return p.err }

// IsLastPage reports whether the loaded page held fewer rows than requested.
func (p *Pager) IsLastPage() bool {
	return p.loaded && p.frame.NumRows() < p.pageSize
}

// HasPrev reports whether a previous page exists.
func (p *Pager) HasPrev() bool { return p.page > 0 }

// Observe compares resetKey with the last key seen. When it changed the page
// and cached frame are dropped and Observe returns true.
func (p *Pager) Observe(resetKey uint64) bool {
	if resetKey == p.resetKey {
		return false
	}
	p.resetKey = resetKey
	p.Clear()
	return true
}

// Clear drops the page and cached frame.
func (p *Pager) Clear() {
	p.page, p.frame, p.loaded, p.err = 0, Frame{}, false, nil
}
