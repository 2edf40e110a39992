package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrTitleRequired indicates the video title is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrSourceRequired indicates neither a source file nor a link was given.
	ErrSourceRequired = errors.New("either a video file or a video link must be provided")

	// ErrInvalidResolution indicates a resolution string that is not WxH.
	ErrInvalidResolution = errors.New("resolution must be in the form WIDTHxHEIGHT")

	// ErrInvalidBitrate indicates a bitrate that is not <n>k.
	ErrInvalidBitrate = errors.New("bitrate must be in the form <kbps>k")
)
