package crawler

import "errors"

var (
	// ErrInvalidTargetDate is returned when the run's target date is missing
	// or not a real calendar date in YYYYMMDD form.
	ErrInvalidTargetDate = errors.New("target date must be given as YYYYMMDD")
	// ErrStoreClosed is returned by stores used after Close.
	ErrStoreClosed = errors.New("snapshot store is closed")
)
