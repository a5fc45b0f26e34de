package progress

import "github.com/bitfsorg/feerouter-go/errs"

var (
	// ErrEpochComplete indicates a page applied to a closed epoch.
	ErrEpochComplete = errs.ErrCursor.New("progress: epoch already complete")

	// ErrEpochIncomplete indicates a close or restart before every investor
	// page was processed.
	ErrEpochIncomplete = errs.ErrCursor.New("progress: epoch has unprocessed investors")

	// ErrCursorOverflow indicates a cursor that would pass the investor count.
	ErrCursorOverflow = errs.ErrOverflow.New("progress: cursor overflow")

	// ErrDailyCapExceeded indicates a mutation that would pass the daily cap.
	ErrDailyCapExceeded = errs.ErrValidation.New("progress: epoch distribution exceeds daily cap")

	// ErrInvalidTransferID indicates a transfer id that is not 64 hex chars.
	ErrInvalidTransferID = errs.ErrValidation.New("progress: invalid transfer id")
)
