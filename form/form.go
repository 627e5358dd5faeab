// Package form holds the state of the video-to-PDF form as plain fields:
// the selected file, conversion options, the submit control, cosmetic
// progress, the status line and the download area. Presentations (the CLI,
// tests) read it through Snapshot and never touch a rendering surface.
package form

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
	"github.com/soham2yu/Bookscan-AI-Frontend/service"
)

const (
	SubmitLabel     = "Convert to PDF"
	SubmitLabelBusy = "Processing..."

	msgIdle      = "Idle"
	msgNoFile    = "Please select a video file first"
	msgUploading = "Uploading video..."
	msgDone      = "Conversion completed successfully!"
	msgFailed    = "Conversion failed: "
)

var (
	// ErrBusy is returned while a conversion is already in flight.
	ErrBusy = errors.New("a conversion is already in progress")
	// ErrReset is returned by a conversion superseded by Reset.
	ErrReset = errors.New("conversion was reset")
	// ErrNoResult is returned when there is nothing to download.
	ErrNoResult = errors.New("no converted document available")
)

// StatusKind styles the status line.
type StatusKind string

const (
	StatusIdle    StatusKind = ""
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

type Status struct {
	Message string
	Kind    StatusKind
}

// Progress is derived entirely from the phase.
type Progress struct {
	Phase   model.Phase
	Percent int
	Label   string
	Steps   [4]bool
}

func progressFor(phase model.Phase) Progress {
	p := Progress{Phase: phase, Percent: phase.Percent(), Label: phase.Label()}
	for i := 0; i < phase.Step(); i++ {
		p.Steps[i] = true
	}
	return p
}

// FileInfo is what the upload area shows for a selection.
type FileInfo struct {
	Name   string
	Size   int64
	SizeMB string
}

// Snapshot is a point-in-time copy of the form state.
type Snapshot struct {
	File          *FileInfo
	Interval      float64
	Quality       string
	OCR           bool
	SubmitEnabled bool
	SubmitLabel   string
	Progress      Progress
	Status        Status
	ResultVisible bool
}

// Submitter performs one conversion request.
type Submitter interface {
	Submit(ctx context.Context, req *model.ConversionRequest, onPhase service.PhaseFunc) (*model.ConversionResult, error)
}

type Form struct {
	mu        sync.Mutex
	submitter Submitter
	onChange  func(Snapshot)

	file     File
	interval float64
	quality  string
	ocr      bool

	inFlight      bool
	submitLabel   string
	progress      Progress
	status        Status
	result        *model.ConversionResult
	resultVisible bool

	generation uint64
	cancel     context.CancelFunc
}

// Option configures a Form.
type Option func(*Form)

// WithOnChange registers a presentation callback. It runs with the form
// locked and must not call back into the Form.
func WithOnChange(fn func(Snapshot)) Option {
	return func(f *Form) { f.onChange = fn }
}

// WithDefaults sets the initial option values.
func WithDefaults(interval float64, quality string) Option {
	return func(f *Form) {
		if interval > 0 {
			f.interval = interval
		}
		f.quality = quality
	}
}

func New(submitter Submitter, opts ...Option) *Form {
	f := &Form{
		submitter:   submitter,
		interval:    model.DefaultInterval,
		submitLabel: SubmitLabel,
		progress:    progressFor(model.PhaseReady),
		status:      Status{Message: msgIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns a copy of the current form state.
func (f *Form) State() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Form) snapshotLocked() Snapshot {
	s := Snapshot{
		Interval:      f.interval,
		Quality:       f.quality,
		OCR:           f.ocr,
		SubmitEnabled: !f.inFlight,
		SubmitLabel:   f.submitLabel,
		Progress:      f.progress,
		Status:        f.status,
		ResultVisible: f.resultVisible,
	}
	if f.file != nil {
		src := model.SourceFile{Name: f.file.Name(), Size: f.file.Size()}
		s.File = &FileInfo{Name: src.Name, Size: src.Size, SizeMB: src.SizeMB()}
	}
	return s
}

func (f *Form) notifyLocked() {
	if f.onChange != nil {
		f.onChange(f.snapshotLocked())
	}
}

// SelectFile replaces the current selection.
func (f *Form) SelectFile(file File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.file = file
	f.notifyLocked()
}

// FileSummary is the upload-area text for the selection, empty when
// nothing is selected.
func (f *Form) FileSummary() string {
	s := f.State()
	if s.File == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s)", s.File.Name, s.File.SizeMB)
}

// SetInterval sets the seconds between sampled frames.
func (f *Form) SetInterval(seconds float64) error {
	if seconds <= 0 {
		return service.ErrInvalidInterval
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = seconds
	f.notifyLocked()
	return nil
}

func (f *Form) SetQuality(quality string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quality = quality
	f.notifyLocked()
}

func (f *Form) SetOCR(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ocr = enabled
	f.notifyLocked()
}

// Convert submits the selected file. The submit control stays disabled
// until the call returns, and progress updates from a submission that has
// been reset are dropped.
func (f *Form) Convert(ctx context.Context) error {
	f.mu.Lock()
	if f.file == nil {
		f.status = Status{Message: msgNoFile, Kind: StatusError}
		f.notifyLocked()
		f.mu.Unlock()
		return service.ErrNoFile
	}
	if f.inFlight {
		f.mu.Unlock()
		return ErrBusy
	}

	f.generation++
	gen := f.generation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.cancel = cancel

	f.inFlight = true
	f.submitLabel = SubmitLabelBusy
	f.progress = progressFor(model.PhaseReady)
	f.status = Status{Message: msgUploading, Kind: StatusInfo}
	f.notifyLocked()

	file := f.file
	req := &model.ConversionRequest{
		SampleIntervalSeconds:  f.interval,
		QualityLevel:           f.quality,
		TextRecognitionEnabled: f.ocr,
	}
	f.mu.Unlock()

	result, err := f.submit(ctx, file, req, gen)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != gen {
		return ErrReset
	}

	f.inFlight = false
	f.cancel = nil
	f.submitLabel = SubmitLabel

	if err != nil {
		logger.Warn(ctx, "conversion failed", "filename", file.Name(), "error", err)
		f.status = Status{Message: msgFailed + err.Error(), Kind: StatusError}
		f.progress = progressFor(model.PhaseReady)
		f.notifyLocked()
		return err
	}

	f.result = result
	f.resultVisible = true
	f.status = Status{Message: msgDone, Kind: StatusSuccess}
	f.notifyLocked()
	return nil
}

func (f *Form) submit(ctx context.Context, file File, req *model.ConversionRequest, gen uint64) (*model.ConversionResult, error) {
	content, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer content.Close()

	req.Source = &model.SourceFile{Name: file.Name(), Size: file.Size(), Content: content}

	return f.submitter.Submit(ctx, req, func(phase model.Phase) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.generation != gen {
			return
		}
		f.progress = progressFor(phase)
		f.notifyLocked()
	})
}

// Reset cancels any in-flight conversion, clears the selection, hides the
// result and restores the initial progress.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.generation++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}

	f.file = nil
	f.inFlight = false
	f.submitLabel = SubmitLabel
	f.progress = progressFor(model.PhaseReady)
	f.status = Status{Message: msgIdle}
	f.result = nil
	f.resultVisible = false
	f.notifyLocked()
}

// Result returns the retained document, if any.
func (f *Form) Result() (*model.ConversionResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.result != nil
}

// Download writes the retained document to w.
func (f *Form) Download(w io.Writer) error {
	result, ok := f.Result()
	if !ok {
		return ErrNoResult
	}
	_, err := w.Write(result.Payload)
	return err
}

// SaveTo writes the retained document into dir under its suggested name
// and returns the full path.
func (f *Form) SaveTo(dir string) (string, error) {
	result, ok := f.Result()
	if !ok {
		return "", ErrNoResult
	}
	path := filepath.Join(dir, result.SuggestedFilename)
	if err := os.WriteFile(path, result.Payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}

// Hint is the help text shown for one control.
type Hint struct {
	Control string `json:"control"`
	Text    string `json:"text"`
}

// Hints returns the help texts for the form controls.
func Hints() []Hint {
	return []Hint{
		{Control: "interval", Text: "Time between frame captures (lower = more frames)"},
		{Control: "quality", Text: "Higher quality = larger file size"},
		{Control: "ocr", Text: "Recognize text on captured pages"},
		{Control: "convert", Text: "Start converting your video to PDF"},
		{Control: "clear", Text: "Reset everything"},
	}
}
