package pagination

import (
	"fmt"

	"github.com/bitfsorg/feerouter-go/errs"
)

var (
	// ErrInvalidPaginationCursor indicates a cursor ahead of the stored one.
	ErrInvalidPaginationCursor = errs.ErrCursor.New("pagination: invalid pagination cursor")

	// ErrInvalidPageSize indicates a page size outside [1, MaxPageSize].
	ErrInvalidPageSize = errs.ErrValidation.New("pagination: invalid page size")

	// ErrPageTooLarge indicates more investors than the page size allows.
	ErrPageTooLarge = errs.ErrValidation.New("pagination: page exceeds page size")

	// ErrPageOutOfRange indicates a page reaching past the investor count.
	ErrPageOutOfRange = errs.ErrExternalData.New("pagination: page exceeds investor count")

	// ErrShortPage indicates a non-final page that is not full.
	ErrShortPage = errs.ErrExternalData.New("pagination: non-final page is not full")

	// ErrInvestorOrder indicates investor ids out of canonical order.
	ErrInvestorOrder = errs.ErrExternalData.New("pagination: investors not in ascending order")
)

// CursorError reports a rejected cursor with both positions.
type CursorError struct {
	Requested uint32
	Current   uint32
}

func (e *CursorError) Error() string {
	return fmt.Sprintf("%s: requested %d, current %d", ErrInvalidPaginationCursor, e.Requested, e.Current)
}

func (e *CursorError) Unwrap() error { return ErrInvalidPaginationCursor }
