package strata

import "errors"

var (
	// ErrDocumentNotFound is returned when a document id does not exist.
	ErrDocumentNotFound = errors.New("strata: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("strata: unsupported document format")

	// ErrParseFailed is returned when document parsing fails.
	ErrParseFailed = errors.New("strata: parsing failed")

	// ErrSectionDetection is returned when section detection cannot produce
	// valid page coverage. This indicates a bug, not bad input: the
	// synthetic fallback is supposed to make detection total.
	ErrSectionDetection = errors.New("strata: section detection failed")

	// ErrExtractionIncomplete is returned by Resume when chunks remain
	// unprocessable after exhausting their retry budget.
	ErrExtractionIncomplete = errors.New("strata: extraction incomplete")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("strata: invalid configuration")
)
