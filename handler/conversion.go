package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/form"
	"github.com/soham2yu/Bookscan-AI-Frontend/middleware"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
	"github.com/soham2yu/Bookscan-AI-Frontend/service"
)

var videoExtensions = []string{".mp4", ".mov", ".m4v", ".avi", ".mkv", ".webm", ".mpeg", ".mpg", ".3gp"}

// Converter turns a video into a PDF.
type Converter interface {
	Submit(ctx context.Context, req *model.ConversionRequest, onPhase service.PhaseFunc) (*model.ConversionResult, error)
}

// ResultStorage keeps finished PDFs.
type ResultStorage interface {
	SaveResult(ctx context.Context, objectName string, result *model.ConversionResult) error
	DownloadURL(ctx context.Context, objectName string) (string, error)
	DeleteResult(ctx context.Context, objectName string) error
}

type ConversionHandler struct {
	converter Converter
	storage   ResultStorage
	store     *service.ConversionStore
	options   *config.ConverterConfig
	maxUpload int64
	tempDir   string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewConversionHandler(converter Converter, storage ResultStorage, store *service.ConversionStore, cfg *config.Config) *ConversionHandler {
	h := &ConversionHandler{
		converter: converter,
		storage:   storage,
		store:     store,
		options:   &cfg.Converter,
		maxUpload: cfg.Server.MaxUploadMB << 20,
		cancels:   make(map[string]context.CancelFunc),
	}
	store.OnEvict(func(c model.Conversion) {
		if c.ObjectName != "" {
			go h.deleteResult(context.Background(), c.ObjectName)
		}
	})
	return h
}

// Options returns the form defaults and help texts
func (h *ConversionHandler) Options(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default_interval": h.options.DefaultInterval,
		"default_quality":  h.options.DefaultQuality,
		"qualities":        h.options.Qualities,
		"output_filename":  model.OutputFilename,
		"hints":            form.Hints(),
	})
}

// Upload starts a conversion from a multipart form with fields
// video, interval, quality and ocr.
func (h *ConversionHandler) Upload(c *gin.Context) {
	username := middleware.GetUsername(c)

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	file, header, err := c.Request.FormFile(service.FieldVideo)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Video exceeds %d MB", h.maxUpload>>20)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please select a video file first"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(videoExtensions, ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only video files are allowed"})
		return
	}

	interval, err := h.parseInterval(c.PostForm(service.FieldInterval))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quality := c.PostForm(service.FieldQuality)
	if quality == "" {
		quality = h.options.DefaultQuality
	}
	if !slices.Contains(h.options.Qualities, quality) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported quality: " + quality})
		return
	}

	ocr := false
	if raw := c.PostForm(service.FieldOCR); raw != "" {
		ocr, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ocr must be true or false"})
			return
		}
	}

	conversion := &model.Conversion{
		ID:        uuid.New().String(),
		Username:  username,
		Filename:  header.Filename,
		FileSize:  header.Size,
		Interval:  interval,
		Quality:   quality,
		OCR:       ocr,
		Status:    model.StatusPending,
		Phase:     model.PhaseReady,
		CreatedAt: time.Now(),
	}
	if !h.store.Create(conversion) {
		c.JSON(http.StatusConflict, gin.H{"error": "A conversion is already in progress"})
		return
	}

	// The multipart temp file disappears with the request, so keep our own copy.
	spooled, err := h.spool(file)
	if err != nil {
		h.store.Delete(conversion.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload: " + err.Error()})
		return
	}

	ctx := logger.WithConversion(context.WithoutCancel(c.Request.Context()), conversion.ID)
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancels[conversion.ID] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.process(ctx, *conversion, spooled)

	c.JSON(http.StatusAccepted, gin.H{
		"id":       conversion.ID,
		"filename": conversion.Filename,
		"status":   conversion.Status,
		"phase":    conversion.Phase,
	})
}

func (h *ConversionHandler) parseInterval(raw string) (float64, error) {
	if raw == "" {
		return h.options.DefaultInterval, nil
	}
	interval, err := strconv.ParseFloat(raw, 64)
	if err != nil || interval <= 0 {
		return 0, service.ErrInvalidInterval
	}
	return interval, nil
}

func (h *ConversionHandler) spool(src io.Reader) (string, error) {
	dst, err := os.CreateTemp(h.tempDir, "bookscan-upload-*")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// process runs one conversion in the background
func (h *ConversionHandler) process(ctx context.Context, conversion model.Conversion, spooled string) {
	defer h.wg.Done()
	defer h.release(conversion.ID)
	defer os.Remove(spooled)

	logger.Info(ctx, "conversion started", "filename", conversion.Filename, "size", conversion.FileSize)

	video, err := os.Open(spooled)
	if err != nil {
		h.store.UpdateStatus(conversion.ID, model.StatusFailed, "Failed to read upload: "+err.Error())
		return
	}
	defer video.Close()

	req := &model.ConversionRequest{
		Source: &model.SourceFile{
			Name:    conversion.Filename,
			Size:    conversion.FileSize,
			Content: video,
		},
		SampleIntervalSeconds:  conversion.Interval,
		QualityLevel:           conversion.Quality,
		TextRecognitionEnabled: conversion.OCR,
	}

	result, err := h.converter.Submit(ctx, req, func(phase model.Phase) {
		h.store.UpdatePhase(conversion.ID, phase)
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info(ctx, "conversion canceled")
			h.store.UpdateStatus(conversion.ID, model.StatusCanceled, "")
			return
		}
		logger.Warn(ctx, "conversion failed", "error", err)
		h.store.UpdateStatus(conversion.ID, model.StatusFailed, err.Error())
		return
	}

	objectName := service.ResultObjectName(conversion.Username, conversion.ID)
	if err := h.storage.SaveResult(ctx, objectName, result); err != nil {
		logger.Error(ctx, "failed to store result", "error", err)
		h.store.UpdateStatus(conversion.ID, model.StatusFailed, "Failed to store result: "+err.Error())
		return
	}

	if !h.store.Complete(conversion.ID, objectName, int64(len(result.Payload))) {
		// Reset while the result was being stored.
		logger.Info(ctx, "conversion reset before completion, discarding result")
		h.deleteResult(context.WithoutCancel(ctx), objectName)
		return
	}
	logger.Info(ctx, "conversion completed", "bytes", len(result.Payload))
}

func (h *ConversionHandler) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[id]; ok {
		cancel()
		delete(h.cancels, id)
	}
}

func (h *ConversionHandler) deleteResult(ctx context.Context, objectName string) {
	if err := h.storage.DeleteResult(ctx, objectName); err != nil {
		logger.Warn(ctx, "failed to delete result", "object", objectName, "error", err)
	}
}

// Shutdown cancels running conversions and waits for them to stop.
func (h *ConversionHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, cancel := range h.cancels {
		cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup returns the caller's conversion or writes 404.
func (h *ConversionHandler) lookup(c *gin.Context) *model.Conversion {
	conversion := h.store.Get(c.Param("id"))
	if conversion == nil || conversion.Username != middleware.GetUsername(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversion not found"})
		return nil
	}
	return conversion
}

// List returns all conversions of the current user
func (h *ConversionHandler) List(c *gin.Context) {
	conversions := h.store.GetByUser(middleware.GetUsername(c))

	result := make([]gin.H, len(conversions))
	for i, conversion := range conversions {
		result[i] = gin.H{
			"id":         conversion.ID,
			"filename":   conversion.Filename,
			"status":     conversion.Status,
			"phase":      conversion.Phase,
			"created_at": conversion.CreatedAt.Format(time.RFC3339),
			"updated_at": conversion.UpdatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"conversions": result})
}

func (h *ConversionHandler) Get(c *gin.Context) {
	conversion := h.lookup(c)
	if conversion == nil {
		return
	}
	c.JSON(http.StatusOK, conversion)
}

// GetStatus returns the cosmetic progress of a conversion
func (h *ConversionHandler) GetStatus(c *gin.Context) {
	conversion := h.lookup(c)
	if conversion == nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        conversion.ID,
		"status":    conversion.Status,
		"phase":     conversion.Phase,
		"percent":   conversion.Phase.Percent(),
		"label":     conversion.Phase.Label(),
		"step":      conversion.Phase.Step(),
		"error_msg": conversion.ErrorMsg,
	})
}

// Download redirects to the stored PDF
func (h *ConversionHandler) Download(c *gin.Context) {
	conversion := h.lookup(c)
	if conversion == nil {
		return
	}
	if conversion.Status != model.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Conversion is not finished"})
		return
	}

	url, err := h.storage.DownloadURL(c.Request.Context(), conversion.ObjectName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// Delete resets a conversion: cancels it if running and discards its result.
func (h *ConversionHandler) Delete(c *gin.Context) {
	conversion := h.lookup(c)
	if conversion == nil {
		return
	}

	h.store.Delete(conversion.ID)
	h.release(conversion.ID)
	if conversion.ObjectName != "" {
		h.deleteResult(c.Request.Context(), conversion.ObjectName)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversion reset"})
}
