package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"logguard/core"
	"logguard/metrics"
)

func (a *API) listLogFiles(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		var cached []core.LogFile
		found, err := a.cache.Get(r.Context(), core.CacheKeyLogFiles, &cached)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("api", "get").Inc()
		} else if found {
			metrics.CacheHits.WithLabelValues("api").Inc()
			respondJSON(w, http.StatusOK, cached)
			return
		} else {
			metrics.CacheMisses.WithLabelValues("api").Inc()
		}
	}

	files, err := a.store.ListLogFiles(r.Context())
	if err != nil {
		a.handleDomainError(w, err, "Failed to list log files")
		return
	}
	if files == nil {
		files = []core.LogFile{}
	}

	if a.cache != nil {
		if err := a.cache.Set(r.Context(), core.CacheKeyLogFiles, files, a.config.GetCacheTTL()); err != nil {
			metrics.CacheErrors.WithLabelValues("api", "set").Inc()
		}
	}
	respondJSON(w, http.StatusOK, files)
}

func (a *API) getLogFile(w http.ResponseWriter, r *http.Request) {
	logFile, err := a.store.GetLogFile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch log file")
		return
	}
	respondJSON(w, http.StatusOK, logFile)
}

func (a *API) uploadLogFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.Upload.MaxFileSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds the %d byte limit", a.config.Upload.MaxFileSize), err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file in multipart form", err, a.logger)
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if !a.config.AllowedExtension(ext) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("File extension %q is not allowed", ext), nil, a.logger)
		return
	}

	if err := os.MkdirAll(a.config.DataPaths.UploadsDir, 0750); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to prepare upload directory", err, a.logger)
		return
	}

	stored := uuid.NewString() + ext
	path := filepath.Join(a.config.DataPaths.UploadsDir, stored)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload", err, a.logger)
		return
	}
	written, err := io.Copy(dst, file)
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		os.Remove(path)
		if err != nil && err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds the %d byte limit", a.config.Upload.MaxFileSize), err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to store upload", err, a.logger)
		return
	}

	logFile := &core.LogFile{
		ID:           uuid.NewString(),
		Filename:     stored,
		OriginalName: header.Filename,
		FileSize:     written,
		Status:       core.FileStatusPending,
		UploadedAt:   time.Now().UTC(),
	}
	if err := a.store.SaveLogFile(r.Context(), logFile); err != nil {
		os.Remove(path)
		a.handleDomainError(w, err, "Failed to record upload")
		return
	}

	metrics.LogFilesUploaded.Inc()
	a.invalidateLogFileCache(r)
	if a.hub != nil {
		a.hub.Broadcast("log_file.uploaded", logFile)
	}

	a.logger.Infow("Log file uploaded",
		"log_file_id", logFile.ID, "original_name", logFile.OriginalName, "size", written)
	respondJSON(w, http.StatusCreated, logFile)
}

func (a *API) deleteLogFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	logFile, err := a.store.GetLogFile(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch log file")
		return
	}
	if err := a.store.DeleteLogFile(r.Context(), id); err != nil {
		a.handleDomainError(w, err, "Failed to delete log file")
		return
	}

	// The stored upload goes with the record. Best effort.
	path := filepath.Join(a.config.DataPaths.UploadsDir, filepath.Base(logFile.Filename))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		a.logger.Warnw("Failed to remove stored upload", "log_file_id", id, "error", err)
	}

	a.invalidateLogFileCache(r)
	if a.cache != nil {
		if err := a.cache.Invalidate(r.Context(), core.CacheKeyAnomalies); err != nil {
			metrics.CacheErrors.WithLabelValues("api", "invalidate").Inc()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// retryLogFile re-runs the rule-based analysis for a failed upload.
func (a *API) retryLogFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	logFile, err := a.store.GetLogFile(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, err, "Failed to fetch log file")
		return
	}
	if logFile.Status != core.FileStatusFailed {
		writeError(w, http.StatusBadRequest, "Only failed files can be retried", nil, a.logger)
		return
	}

	result, err := a.dispatcher.RunTraditional(r.Context(), id)
	if err != nil {
		a.handleDomainError(w, err, "Retry failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (a *API) invalidateLogFileCache(r *http.Request) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(r.Context(), core.CacheKeyLogFiles); err != nil {
		metrics.CacheErrors.WithLabelValues("api", "invalidate").Inc()
	}
}
