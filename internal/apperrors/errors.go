// Package apperrors defines the error taxonomy shared by the client and the engine.
package apperrors

import "errors"

var (
	// ErrCatalogUnavailable reports that the song list could not be fetched or decoded.
	ErrCatalogUnavailable = errors.New("song catalog unavailable")
	// ErrChartUnavailable reports a failed chart request or a malformed chart payload.
	ErrChartUnavailable = errors.New("chart unavailable")
	// ErrInvalidSong reports a song label the backend does not know.
	ErrInvalidSong = errors.New("invalid song")
	// ErrInvalidSelection reports a selection that cannot be queried.
	ErrInvalidSelection = errors.New("invalid selection")
)
