package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/service"
)

type fakeConverter struct {
	mu      sync.Mutex
	reqs    []model.ConversionRequest
	videos  [][]byte
	err     error
	block   bool
	started chan struct{}
	stopped chan error
}

func (f *fakeConverter) Submit(ctx context.Context, req *model.ConversionRequest, onPhase service.PhaseFunc) (*model.ConversionResult, error) {
	data, _ := io.ReadAll(req.Source.Content)

	f.mu.Lock()
	f.reqs = append(f.reqs, *req)
	f.videos = append(f.videos, data)
	block, err := f.block, f.err
	f.mu.Unlock()

	onPhase(model.PhaseUploading)

	if block {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		if f.stopped != nil {
			f.stopped <- ctx.Err()
		}
		return nil, &service.TransportError{Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}

	onPhase(model.PhaseProcessing)
	onPhase(model.PhaseGenerating)
	onPhase(model.PhaseComplete)
	return &model.ConversionResult{
		Payload:           []byte("%PDF-1.4 " + string(data)),
		SuggestedFilename: model.OutputFilename,
		ContentType:       model.ContentTypePDF,
	}, nil
}

func (f *fakeConverter) lastRequest() model.ConversionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	saveErr error
	onSave  func(objectName string)
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) SaveResult(ctx context.Context, objectName string, result *model.ConversionResult) error {
	s.mu.Lock()
	if s.saveErr != nil {
		s.mu.Unlock()
		return s.saveErr
	}
	s.objects[objectName] = result.Payload
	onSave := s.onSave
	s.mu.Unlock()

	if onSave != nil {
		onSave(objectName)
	}
	return nil
}

func (s *fakeStorage) DownloadURL(ctx context.Context, objectName string) (string, error) {
	return "https://storage.test/" + objectName + "?signed=1", nil
}

func (s *fakeStorage) DeleteResult(ctx context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	s.deleted = append(s.deleted, objectName)
	return nil
}

func (s *fakeStorage) wasDeleted(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deleted {
		if d == name {
			return true
		}
	}
	return false
}

func (s *fakeStorage) object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	return data, ok
}

func newTestConversionHandler(t *testing.T, conv Converter, storage ResultStorage) (*ConversionHandler, *gin.Engine) {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()
	store := service.NewConversionStore(&cfg.Store)

	h := NewConversionHandler(conv, storage, store, cfg)
	h.tempDir = t.TempDir()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})

	router := gin.New()
	api := router.Group("/api", func(c *gin.Context) {
		user := c.GetHeader("X-Test-User")
		if user == "" {
			user = "alice"
		}
		c.Set("username", user)
		c.Next()
	})
	api.GET("/options", h.Options)
	api.POST("/conversions", h.Upload)
	api.GET("/conversions", h.List)
	api.GET("/conversions/:id", h.Get)
	api.GET("/conversions/:id/status", h.GetStatus)
	api.GET("/conversions/:id/download", h.Download)
	api.DELETE("/conversions/:id", h.Delete)

	return h, router
}

func uploadRequest(t *testing.T, filename string, video []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("video", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(video)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/conversions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func startConversion(t *testing.T, router *gin.Engine, fields map[string]string) string {
	t.Helper()
	w := serve(router, uploadRequest(t, "lecture.mp4", []byte("video"), fields))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return response["id"].(string)
}

func waitForStatus(t *testing.T, h *ConversionHandler, id, status string) *model.Conversion {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := h.store.Get(id); c != nil && c.Status == status {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Conversion %s never reached status %s (now %+v)", id, status, h.store.Get(id))
	return nil
}

func TestConversionHandlerUploadValidation(t *testing.T) {
	conv := &fakeConverter{}
	_, router := newTestConversionHandler(t, conv, newFakeStorage())

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		want     string
	}{
		{"no file", "", nil, "Please select a video file first"},
		{"not a video", "notes.txt", nil, "Only video files are allowed"},
		{"bad interval", "a.mp4", map[string]string{"interval": "abc"}, service.ErrInvalidInterval.Error()},
		{"zero interval", "a.mp4", map[string]string{"interval": "0"}, service.ErrInvalidInterval.Error()},
		{"bad quality", "a.mp4", map[string]string{"quality": "ultra"}, "Unsupported quality: ultra"},
		{"bad ocr", "a.mp4", map[string]string{"ocr": "maybe"}, "ocr must be true or false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, uploadRequest(t, tt.filename, []byte("v"), tt.fields))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			var response model.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &response)
			if response.Error != tt.want {
				t.Errorf("Expected error %q, got %q", tt.want, response.Error)
			}
		})
	}

	if len(conv.reqs) != 0 {
		t.Error("Expected no conversion to be submitted")
	}
}

func TestConversionHandlerUploadSuccess(t *testing.T) {
	conv := &fakeConverter{}
	storage := newFakeStorage()
	h, router := newTestConversionHandler(t, conv, storage)

	id := startConversion(t, router, map[string]string{"ocr": "true"})
	c := waitForStatus(t, h, id, model.StatusCompleted)

	req := conv.lastRequest()
	if req.SampleIntervalSeconds != 2 || req.QualityLevel != "medium" || !req.TextRecognitionEnabled {
		t.Errorf("Unexpected converter request %+v", req)
	}
	if req.Source.Name != "lecture.mp4" {
		t.Errorf("Expected original filename, got %s", req.Source.Name)
	}

	if c.ObjectName != "alice/"+id+"/bookscan_output.pdf" {
		t.Errorf("Unexpected object name %s", c.ObjectName)
	}
	data, ok := storage.object(c.ObjectName)
	if !ok || string(data) != "%PDF-1.4 video" {
		t.Errorf("Expected stored PDF, got %q", data)
	}

	w := serve(router, httptest.NewRequest("GET", "/api/conversions/"+id+"/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var status map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status["phase"] != "complete" || status["percent"] != float64(100) || status["label"] != "Done!" {
		t.Errorf("Unexpected status response %v", status)
	}
}

func TestConversionHandlerUploadConflict(t *testing.T) {
	conv := &fakeConverter{block: true, started: make(chan struct{})}
	_, router := newTestConversionHandler(t, conv, newFakeStorage())

	startConversion(t, router, nil)
	<-conv.started

	w := serve(router, uploadRequest(t, "other.mp4", []byte("v"), nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	// Other users are unaffected.
	req := uploadRequest(t, "other.mp4", []byte("v"), nil)
	req.Header.Set("X-Test-User", "bob")
	conv.mu.Lock()
	conv.block = false
	conv.mu.Unlock()
	if w := serve(router, req); w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202 for another user, got %d", w.Code)
	}
}

func TestConversionHandlerConverterFailure(t *testing.T) {
	conv := &fakeConverter{err: &service.ServerError{StatusCode: http.StatusBadRequest, Message: "X"}}
	storage := newFakeStorage()
	h, router := newTestConversionHandler(t, conv, storage)

	id := startConversion(t, router, nil)
	c := waitForStatus(t, h, id, model.StatusFailed)

	if c.ErrorMsg != "X" {
		t.Errorf("Expected error message X, got %q", c.ErrorMsg)
	}
	if c.Phase != model.PhaseReady {
		t.Errorf("Expected phase reset to ready, got %s", c.Phase)
	}

	// A failed attempt frees the user for a retry.
	conv.mu.Lock()
	conv.err = nil
	conv.mu.Unlock()
	retry := startConversion(t, router, nil)
	waitForStatus(t, h, retry, model.StatusCompleted)
}

func TestConversionHandlerStorageFailure(t *testing.T) {
	storage := newFakeStorage()
	storage.saveErr = errors.New("bucket gone")
	h, router := newTestConversionHandler(t, &fakeConverter{}, storage)

	id := startConversion(t, router, nil)
	c := waitForStatus(t, h, id, model.StatusFailed)
	if c.ErrorMsg != "Failed to store result: bucket gone" {
		t.Errorf("Unexpected error message %q", c.ErrorMsg)
	}
}

func TestConversionHandlerUploadTooLarge(t *testing.T) {
	conv := &fakeConverter{}
	h, router := newTestConversionHandler(t, conv, newFakeStorage())
	h.maxUpload = 1 << 10

	w := serve(router, uploadRequest(t, "long.mp4", make([]byte, 4<<10), nil))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d: %s", w.Code, w.Body.String())
	}
	if h.store.Count() != 0 || len(conv.reqs) != 0 {
		t.Error("Expected nothing to be recorded or submitted")
	}
}

func TestConversionHandlerResetWhileStoring(t *testing.T) {
	storage := newFakeStorage()
	h, router := newTestConversionHandler(t, &fakeConverter{}, storage)

	// The record disappears after the PDF is uploaded but before it is
	// marked complete.
	storage.onSave = func(string) {
		for _, c := range h.store.GetByUser("alice") {
			h.store.Delete(c.ID)
		}
	}

	id := startConversion(t, router, nil)
	objectName := service.ResultObjectName("alice", id)

	deadline := time.Now().Add(2 * time.Second)
	for !storage.wasDeleted(objectName) {
		if time.Now().After(deadline) {
			t.Fatal("Expected the orphaned PDF to be deleted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := storage.object(objectName); ok {
		t.Error("Expected no stored PDF to remain")
	}
	if h.store.Get(id) != nil {
		t.Error("Expected the record to stay deleted")
	}
}

func TestConversionHandlerDownload(t *testing.T) {
	conv := &fakeConverter{}
	h, router := newTestConversionHandler(t, conv, newFakeStorage())

	id := startConversion(t, router, nil)
	waitForStatus(t, h, id, model.StatusCompleted)

	w := serve(router, httptest.NewRequest("GET", "/api/conversions/"+id+"/download", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", w.Code)
	}
	want := "https://storage.test/alice/" + id + "/bookscan_output.pdf?signed=1"
	if w.Header().Get("Location") != want {
		t.Errorf("Expected redirect to %s, got %s", want, w.Header().Get("Location"))
	}

	req := httptest.NewRequest("GET", "/api/conversions/"+id+"/download", nil)
	req.Header.Set("X-Test-User", "mallory")
	if w := serve(router, req); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user, got %d", w.Code)
	}
}

func TestConversionHandlerDownloadNotFinished(t *testing.T) {
	conv := &fakeConverter{block: true, started: make(chan struct{})}
	_, router := newTestConversionHandler(t, conv, newFakeStorage())

	id := startConversion(t, router, nil)
	<-conv.started

	w := serve(router, httptest.NewRequest("GET", "/api/conversions/"+id+"/download", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestConversionHandlerDeleteCancelsInFlight(t *testing.T) {
	conv := &fakeConverter{block: true, started: make(chan struct{}), stopped: make(chan error, 1)}
	h, router := newTestConversionHandler(t, conv, newFakeStorage())

	id := startConversion(t, router, nil)
	<-conv.started

	w := serve(router, httptest.NewRequest("DELETE", "/api/conversions/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	select {
	case err := <-conv.stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Conversion was not canceled")
	}

	if h.store.Get(id) != nil {
		t.Error("Expected conversion record to be removed")
	}
	if w := serve(router, httptest.NewRequest("GET", "/api/conversions/"+id, nil)); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after reset, got %d", w.Code)
	}
}

func TestConversionHandlerDeleteRemovesResult(t *testing.T) {
	storage := newFakeStorage()
	h, router := newTestConversionHandler(t, &fakeConverter{}, storage)

	id := startConversion(t, router, nil)
	c := waitForStatus(t, h, id, model.StatusCompleted)

	w := serve(router, httptest.NewRequest("DELETE", "/api/conversions/"+id, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, ok := storage.object(c.ObjectName); ok {
		t.Error("Expected stored PDF to be deleted")
	}
}

func TestConversionHandlerList(t *testing.T) {
	h, router := newTestConversionHandler(t, &fakeConverter{}, newFakeStorage())

	id := startConversion(t, router, nil)
	waitForStatus(t, h, id, model.StatusCompleted)

	bob := uploadRequest(t, "b.mp4", []byte("v"), nil)
	bob.Header.Set("X-Test-User", "bob")
	serve(router, bob)

	w := serve(router, httptest.NewRequest("GET", "/api/conversions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string][]map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(response["conversions"]) != 1 || response["conversions"][0]["id"] != id {
		t.Errorf("Expected only alice's conversion, got %v", response["conversions"])
	}
}

func TestConversionHandlerOptions(t *testing.T) {
	_, router := newTestConversionHandler(t, &fakeConverter{}, newFakeStorage())

	w := serve(router, httptest.NewRequest("GET", "/api/options", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		DefaultInterval float64  `json:"default_interval"`
		DefaultQuality  string   `json:"default_quality"`
		Qualities       []string `json:"qualities"`
		OutputFilename  string   `json:"output_filename"`
		Hints           []struct {
			Control string `json:"control"`
		} `json:"hints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.DefaultInterval != 2 || response.DefaultQuality != "medium" {
		t.Errorf("Unexpected defaults %+v", response)
	}
	if len(response.Qualities) != 3 || response.OutputFilename != "bookscan_output.pdf" {
		t.Errorf("Unexpected options %+v", response)
	}
	if len(response.Hints) == 0 {
		t.Error("Expected hints")
	}
}

func TestConversionHandlerShutdown(t *testing.T) {
	conv := &fakeConverter{block: true, started: make(chan struct{})}
	h, router := newTestConversionHandler(t, conv, newFakeStorage())

	id := startConversion(t, router, nil)
	<-conv.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if c := h.store.Get(id); c == nil || c.Status != model.StatusCanceled {
		t.Errorf("Expected canceled conversion, got %+v", c)
	}
}
