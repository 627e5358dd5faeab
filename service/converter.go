package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

// Multipart field names expected by the converter.
const (
	FieldVideo    = "video"
	FieldInterval = "interval"
	FieldQuality  = "quality"
	FieldOCR      = "ocr"
)

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 1 << 20

var (
	// ErrNoFile is returned before any network activity when no video was chosen.
	ErrNoFile = errors.New("please select a video file first")
	// ErrInvalidInterval is returned for a non-positive sample interval.
	ErrInvalidInterval = errors.New("interval must be a positive number of seconds")
	// ErrTransport matches every TransportError.
	ErrTransport = errors.New("transport failure")
)

// ServerError is a non-2xx answer from the converter.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TransportError means the request could not complete.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "failed to reach converter: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// PhaseFunc receives cosmetic progress transitions. Calls are serialized
// and strictly increasing for one submission.
type PhaseFunc func(model.Phase)

type ConverterService struct {
	config     *config.ConverterConfig
	httpClient *http.Client
}

func NewConverterService(cfg *config.ConverterConfig) *ConverterService {
	cfg.SetDefaults()
	return &ConverterService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

// Submit uploads the video to the converter and returns the PDF it produces.
//
// Phases are pacing cues only: Uploading before the request is sent,
// Processing once a successful status arrives, Generating after a fixed
// local delay, Complete once the body is read. None of them reflect real
// backend progress. The delay timer belongs to this call and never fires
// after Submit returns.
func (s *ConverterService) Submit(ctx context.Context, req *model.ConversionRequest, onPhase PhaseFunc) (*model.ConversionResult, error) {
	if req == nil || req.Source == nil || req.Source.Content == nil || req.Source.Name == "" {
		return nil, ErrNoFile
	}

	interval := req.SampleIntervalSeconds
	if interval == 0 {
		interval = s.config.DefaultInterval
	}
	if interval < 0 || math.IsNaN(interval) || math.IsInf(interval, 0) {
		return nil, ErrInvalidInterval
	}

	quality := req.QualityLevel
	if quality == "" {
		quality = s.config.DefaultQuality
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	phases := newPhaseGate(onPhase)
	defer phases.close()

	phases.emit(model.PhaseUploading)
	logger.Info(ctx, "submitting video to converter",
		"filename", req.Source.Name,
		"size", req.Source.Size,
		"interval", interval,
		"quality", quality,
		"ocr", req.TextRecognitionEnabled,
	)

	body, contentType := multipartBody(req.Source, interval, quality, req.TextRecognitionEnabled)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/pdf, application/json;q=0.9, */*;q=0.8")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn(ctx, "converter request failed", "error", err)
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := readServerError(resp)
		logger.Warn(ctx, "converter rejected video", "status", resp.StatusCode, "error", serverErr.Message)
		return nil, serverErr
	}

	phases.emit(model.PhaseProcessing)
	timer := time.AfterFunc(s.config.GeneratingDelay(), func() {
		phases.emit(model.PhaseGenerating)
	})
	defer timer.Stop()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	// Generating is a no-op here if the timer already fired.
	phases.emit(model.PhaseGenerating)
	phases.emit(model.PhaseComplete)

	logger.Info(ctx, "converter returned document", "bytes", len(payload))

	contentTypeOut := resp.Header.Get("Content-Type")
	if contentTypeOut == "" {
		contentTypeOut = model.ContentTypePDF
	}
	return &model.ConversionResult{
		Payload:           payload,
		SuggestedFilename: model.OutputFilename,
		ContentType:       contentTypeOut,
	}, nil
}

// multipartBody streams the form through a pipe so large videos are not
// buffered in memory.
func multipartBody(src *model.SourceFile, interval float64, quality string, ocr bool) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, src, interval, quality, ocr)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeForm(mw *multipart.Writer, src *model.SourceFile, interval float64, quality string, ocr bool) error {
	part, err := mw.CreateFormFile(FieldVideo, filepath.Base(src.Name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src.Content); err != nil {
		return fmt.Errorf("failed to read video: %w", err)
	}

	fields := [][2]string{
		{FieldInterval, strconv.FormatFloat(interval, 'f', -1, 64)},
		{FieldQuality, quality},
		{FieldOCR, strconv.FormatBool(ocr)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// readServerError takes the message from a JSON {"error": "..."} body and
// falls back to the reason phrase the server sent.
func readServerError(resp *http.Response) *ServerError {
	serverErr := &ServerError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var parsed model.ErrorResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			serverErr.Message = parsed.Error
			return serverErr
		}
	}

	serverErr.Message = reasonPhrase(resp)
	return serverErr
}

// reasonPhrase is the status line without its code. HTTP/2 responses carry
// no phrase, so the standard text for the code is used there.
func reasonPhrase(resp *http.Response) string {
	if phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); phrase != "" {
		return phrase
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status code %d", resp.StatusCode)
}

// phaseGate forwards monotonic phase transitions until closed.
type phaseGate struct {
	mu     sync.Mutex
	fn     PhaseFunc
	last   model.Phase
	closed bool
}

func newPhaseGate(fn PhaseFunc) *phaseGate {
	return &phaseGate{fn: fn, last: model.PhaseReady}
}

func (g *phaseGate) emit(p model.Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || p <= g.last {
		return
	}
	g.last = p
	if g.fn != nil {
		g.fn(p)
	}
}

func (g *phaseGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
