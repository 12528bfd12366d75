package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/price-tracker/internal/common"
	"github.com/zombor/price-tracker/internal/exchange"
	"github.com/zombor/price-tracker/internal/pipeline"
	"github.com/zombor/price-tracker/internal/pricing"
	"github.com/zombor/price-tracker/internal/scanning"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Error kinds for failures outside the recognition taxonomy.
const (
	kindNotFound         = "not_found"
	kindInvalidRequest   = "invalid_request"
	kindUnsupportedMedia = "unsupported_media_type"
	kindConflict         = "scan_in_progress"
	kindNotConfigured    = "not_configured"
	kindBackupExists     = "backup_exists"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// respond writes v as JSON and logs encoding failures.
func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// errorStatus maps an error to an HTTP status and a machine readable kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pricing.ErrProductNotFound), errors.Is(err, pricing.ErrPurchaseNotFound),
		errors.Is(err, ErrBackupNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, pricing.ErrEmptyName), errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrInvalidPrice), errors.Is(err, exchange.ErrMissingColumns),
		errors.Is(err, exchange.ErrNoSheets), errors.Is(err, exchange.ErrUnreadable),
		errors.Is(err, ErrInvalidBackupName):
		return http.StatusBadRequest, kindInvalidRequest
	case errors.Is(err, scanning.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType, kindUnsupportedMedia
	case errors.Is(err, ErrBackupExists):
		return http.StatusConflict, kindBackupExists
	case errors.Is(err, ErrBackupsDisabled):
		return http.StatusNotImplemented, kindNotConfigured
	}

	kind := common.KindOf(err)
	switch kind {
	case common.KindServiceUnavailable, "":
		return http.StatusServiceUnavailable, string(common.KindServiceUnavailable)
	case common.KindRateLimited:
		return http.StatusTooManyRequests, string(kind)
	case common.KindInputTooLarge:
		return http.StatusRequestEntityTooLarge, string(kind)
	case common.KindUnsupportedLocale, common.KindSafetyRejected,
		common.KindMalformedResponse, common.KindNoItemsFound:
		return http.StatusUnprocessableEntity, string(kind)
	default:
		return http.StatusInternalServerError, string(common.KindUnknown)
	}
}

// writeError logs the technical error and answers with one user-facing
// message in the caller's language.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		s.logger.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}

	var message string
	switch kind {
	case kindUnsupportedMedia:
		message = scanning.ErrUnsupportedImage.Error()
	case kindNotFound, kindInvalidRequest, kindNotConfigured, kindBackupExists:
		message = rootCause(err).Error()
	default:
		message = common.Message(common.Kind(kind), common.MatchLocale(r.Header.Get("Accept-Language")))
	}
	s.respond(w, status, errorResponse{Error: message, Kind: kind})
}

// rootCause strips operation context so users see the sentinel's message.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.respond(w, http.StatusBadRequest, errorResponse{Error: message, Kind: kindInvalidRequest})
}

// handleHealth reports whether scanning is currently possible
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	available := s.service.Available(ctx)
	status := http.StatusOK
	if !available {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, status, map[string]any{"status": "ok", "scanner_available": available})
}

// upload reads the request payload, either the "file" part of a multipart
// form or the raw body, and reports its content type.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		if mediaType == "" {
			mediaType = http.DetectContentType(data)
		}
		return data, mediaType, nil
	}

	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		return nil, "", err
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		case ".xlsx":
			contentType = xlsxContentType
		default:
			contentType = http.DetectContentType(data)
		}
	}
	return data, strings.ToLower(strings.TrimSpace(contentType)), nil
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.respond(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadSize>>20),
			Kind:  kindInvalidRequest,
		})
		return
	}
	s.logger.Warn("Error reading upload", "error", err)
	s.badRequest(w, "No file was provided.")
}

// handleScan recognizes a receipt image
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	user := s.user(r)
	if !s.scans.acquire(user) {
		s.respond(w, http.StatusConflict, errorResponse{Error: "A scan is already in progress.", Kind: kindConflict})
		return
	}
	defer s.scans.release(user)

	data, contentType, err := s.upload(w, r)
	if err != nil {
		s.uploadError(w, err)
		return
	}
	if len(data) == 0 {
		s.badRequest(w, "No file was provided.")
		return
	}

	result, err := s.service.Scan(r.Context(), data, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

type commitRequest struct {
	Items []pipeline.ExtractedLineItem `json:"items"`
	Shop  string                       `json:"shop"`
	Date  string                       `json:"date"`
}

// parseDate accepts RFC 3339 timestamps and plain dates. Empty is the zero time.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, time.Local); err == nil {
		return t, nil
	}
	if t, ok := scanning.ParseReceiptDate(raw); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// handleCommit stores the items a user confirmed
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		s.badRequest(w, "At least one item is required")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	purchases, err := s.service.ConfirmAndCommit(r.Context(), req.Items, req.Shop, date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, purchases)
}

// handleEditPurchase applies a partial update to a purchase
func (s *Server) handleEditPurchase(w http.ResponseWriter, r *http.Request) {
	var edit pricing.PurchaseEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		s.badRequest(w, "Invalid request body")
		return
	}

	purchase, err := s.service.EditPurchase(r.Context(), r.PathValue("id"), edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, purchase)
}

// handleDeletePurchase deletes a purchase and returns its recomputed product
func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	product, err := s.service.DeletePurchase(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, product)
}

// handleListProducts returns every product
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.Products(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, products)
}

// handleGetProduct returns a product with its purchases
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.Product(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, history)
}

// handleDeleteProduct deletes a product and its purchases
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProduct(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns price statistics for a product
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	buckets := 0
	if raw := r.URL.Query().Get("buckets"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			s.badRequest(w, "buckets must be between 1 and 100")
			return
		}
		buckets = n
	}

	report, err := s.service.Stats(r.Context(), r.PathValue("name"), buckets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

// handleRecompute rebuilds one product from its purchases
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	product, err := s.service.Recompute(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, product)
}

// handleRecomputeAll rebuilds every product
func (s *Server) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.RecomputeAllProducts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int{"products": count})
}

// handleImport bulk imports JSON records or an XLSX workbook
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.upload(w, r)
	if err != nil {
		s.uploadError(w, err)
		return
	}

	if strings.HasPrefix(contentType, "application/json") {
		var records []pricing.Record
		if err := json.Unmarshal(data, &records); err != nil {
			s.badRequest(w, "Invalid request body")
			return
		}
		summary, err := s.service.BulkImport(r.Context(), records)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, summary)
		return
	}

	report, err := s.service.ImportWorkbook(r.Context(), bytes.NewReader(data))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

// handleExport downloads the purchase history as XLSX
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportWorkbook(r.Context(), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="prices.xlsx"`)
	w.Write(buf.Bytes())
}

// handleCreateBackup stores a backup of the purchase history
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	name, err := s.service.Backup(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]string{"name": name})
}

// handleListBackups lists stored backups
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.Backups()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, names)
}

// handleGetBackup downloads a stored backup
func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.BackupFile(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

// handleDeleteBackup removes a stored backup
func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBackup(r.PathValue("name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRestore imports a stored backup
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Restore(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}
