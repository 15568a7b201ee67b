package consts

import "errors"

var (
	ErrFeedNotFound     = errors.New("feed not found")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrInternalError    = errors.New("internal error")
	ErrMalformedMessage = errors.New("malformed message")

	ErrStorePersistFailed = errors.New("persist failed")
	ErrStoreLoadFailed    = errors.New("load failed")
)
