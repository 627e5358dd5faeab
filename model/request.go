package model

import (
	"fmt"
	"io"
)

// DefaultInterval is the sampling interval in seconds used when none is given.
const DefaultInterval = 2.0

// SourceFile is the video picked by the user.
type SourceFile struct {
	Name    string
	Size    int64
	Content io.Reader
}

// SizeMB renders the size the way the upload area shows it.
func (f *SourceFile) SizeMB() string {
	return fmt.Sprintf("%.2f MB", float64(f.Size)/1024/1024)
}

// ConversionRequest is built fresh for every submission.
type ConversionRequest struct {
	Source                 *SourceFile
	SampleIntervalSeconds  float64
	QualityLevel           string
	TextRecognitionEnabled bool
}

// ConversionResult holds the PDF returned by the converter.
type ConversionResult struct {
	Payload           []byte
	SuggestedFilename string
	ContentType       string
}

// ErrorResponse is the JSON error body used by the converter and by this service.
type ErrorResponse struct {
	Error string `json:"error"`
}
