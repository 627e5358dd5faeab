package model

import (
	"time"
)

// OutputFilename is the name offered for every downloaded result.
const OutputFilename = "bookscan_output.pdf"

// ContentTypePDF is the media type of a conversion result.
const ContentTypePDF = "application/pdf"

// Conversion is the server-side record of one video-to-PDF submission
type Conversion struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	Interval   float64   `json:"interval"`
	Quality    string    `json:"quality"`
	OCR        bool      `json:"ocr"`
	Status     string    `json:"status"` // pending, processing, completed, failed, canceled
	Phase      Phase     `json:"phase"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
	ObjectName string    `json:"object_name,omitempty"`
	ResultSize int64     `json:"result_size,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether the conversion still has a request in flight.
func (c *Conversion) Active() bool {
	return c.Status == StatusPending || c.Status == StatusProcessing
}

// ConversionStatus constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)
