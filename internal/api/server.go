package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pii-mask/internal/logging"
	"pii-mask/internal/models"
	"pii-mask/internal/services"
	"pii-mask/internal/web"
)

const maxMultipartMemory = 8 << 20 // 8 MB

type Server struct {
	mux       *http.ServeMux
	masking   *services.MaskingService
	runs      *services.RunService
	jobs      *JobManager
	log       logrus.FieldLogger
	maxUpload int64
	urlPrefix string
	pageTime  time.Duration
}

// Options tune the HTTP layer. Zero values fall back to defaults.
type Options struct {
	// MaskedURLPrefix is the public URL path the upload store is served under.
	MaskedURLPrefix string
	MaxUploadBytes  int64
	// PageTimeout is the write budget granted to each raster of a synchronous
	// request. It replaces the server-wide WriteTimeout once masking starts.
	PageTimeout     time.Duration
	Logger          logrus.FieldLogger
}

// FileResult is one masked raster as returned to clients.
type FileResult struct {
	*services.MaskResult
	URL string `json:"url"`
}

func NewServer(masking *services.MaskingService, runs *services.RunService, opts Options) *Server {
	if opts.MaskedURLPrefix == "" {
		opts.MaskedURLPrefix = "/static/masked/"
	}
	if !strings.HasSuffix(opts.MaskedURLPrefix, "/") {
		opts.MaskedURLPrefix += "/"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	s := &Server{
		mux:       http.NewServeMux(),
		masking:   masking,
		runs:      runs,
		jobs:      NewJobManager(),
		log:       opts.Logger,
		maxUpload: opts.MaxUploadBytes,
		urlPrefix: opts.MaskedURLPrefix,
		pageTime:  opts.PageTimeout,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Mount registers extra handlers, such as the static file server, on the
// server's mux.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/mask", s.handleMask)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/api/runs", s.handleListRuns)
	s.mux.HandleFunc("/api/runs/", s.handleGetRun)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.renderPage(w, http.StatusOK, web.Page{})
	case http.MethodPost:
		s.handleUploadForm(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderPage(w, http.StatusRequestEntityTooLarge, web.Page{Error: "upload too large"})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil || header.Filename == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	defer file.Close()

	results, err := s.masking.MaskDocument(r.Context(), file, header.Filename, s.extendWriteDeadline(w))
	if errors.Is(err, services.ErrUploadMissing) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("filename", header.Filename).Error("mask upload failed")
		s.renderPage(w, statusFor(err), web.Page{Error: userMessage(err)})
		return
	}

	page := web.Page{Results: make([]web.ResultView, 0, len(results))}
	for _, res := range results {
		page.Results = append(page.Results, web.ResultView{
			MaskedName:     res.MaskedName,
			URL:            s.publicURL(res),
			MaskedBoxCount: res.MaskedBoxCount,
		})
	}
	s.renderPage(w, http.StatusOK, page)
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeFormError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil || header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	results, err := s.masking.MaskDocument(r.Context(), file, header.Filename, s.extendWriteDeadline(w))
	if err != nil {
		s.log.WithError(err).WithField("filename", header.Filename).Error("mask upload failed")
		writeMaskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": s.fileResults(results)})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/jobs" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.handleCreateMaskJob(w, r)
}

// jobFile is an upload read out of the multipart form. net/http removes the
// form's temp files once the handler returns, so job goroutines only see
// these copies.
type jobFile struct {
	name string
	data []byte
}

func (s *Server) handleCreateMaskJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeFormError(w, err)
		return
	}

	form := r.MultipartForm
	if form == nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer form.RemoveAll()

	headers := form.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	files := make([]jobFile, 0, len(headers))
	fileNames := make([]string, len(headers))
	for i, header := range headers {
		data, err := readFormFile(header)
		if err != nil {
			s.log.WithError(err).WithField("filename", header.Filename).Error("read job upload")
			writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read %s", header.Filename))
			return
		}
		files = append(files, jobFile{name: header.Filename, data: data})
		fileNames[i] = header.Filename
	}

	jobID, snapshot := s.jobs.CreateJob(fileNames)

	go s.runMaskJob(context.Background(), jobID, files)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runMaskJob(ctx context.Context, jobID string, files []jobFile) {
	log := s.log.WithField("job_id", jobID)
	s.jobs.MarkProcessing(jobID)

	failed := 0
	for idx, file := range files {
		s.jobs.MarkFileStarted(jobID, idx)
		progress := func(step, message string, current, total int) {
			s.jobs.UpdateFileProgress(jobID, idx, step, message, current, total)
		}
		results, err := s.masking.MaskDocument(ctx, bytes.NewReader(file.data), file.name, progress)
		if err != nil {
			failed++
			log.WithError(err).WithField("filename", file.name).Error("mask job file failed")
			s.jobs.MarkFileError(jobID, idx, userMessage(err), string(services.CodeOf(err)), s.fileResults(results))
			continue
		}
		s.jobs.MarkFileComplete(jobID, idx, s.fileResults(results))
	}

	if failed == len(files) {
		s.jobs.MarkFailed(jobID, "all files failed")
		return
	}
	s.jobs.MarkCompleted(jobID)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger disabled")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(runs))
	for i := range runs {
		out = append(out, runJSON(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger disabled")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": runJSON(run)})
}

func (s *Server) fileResults(results []*services.MaskResult) []FileResult {
	out := make([]FileResult, 0, len(results))
	for _, res := range results {
		out = append(out, FileResult{MaskResult: res, URL: s.publicURL(res)})
	}
	return out
}

func (s *Server) publicURL(res *services.MaskResult) string {
	if res.MaskedPath == "" {
		return ""
	}
	return s.urlPrefix + s.masking.Store().Rel(res.MaskedPath)
}

// extendWriteDeadline pushes the write deadline out by one page budget when
// the upload is persisted, a PDF is rendered and each raster starts.
func (s *Server) extendWriteDeadline(w http.ResponseWriter) services.ProgressCallback {
	rc := http.NewResponseController(w)
	return func(step, message string, current, total int) {
		switch step {
		case "persist", "render", "decode":
			_ = rc.SetWriteDeadline(time.Now().Add(s.pageTime))
		}
	}
}

func (s *Server) renderPage(w http.ResponseWriter, status int, page web.Page) {
	var buf bytes.Buffer
	if err := web.RenderIndex(&buf, page); err != nil {
		s.log.WithError(err).Error("render page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

const timeLayout = time.RFC3339

func runJSON(run *models.MaskRun) map[string]any {
	return map[string]any{
		"id":               run.ID,
		"original_name":    run.OriginalName,
		"masked_name":      run.MaskedName,
		"masked_path":      nullString(run.MaskedPath),
		"status":           run.Status,
		"error_code":       nullString(run.ErrorCode),
		"token_count":      run.TokenCount,
		"pii_word_count":   run.PIIWordCount,
		"masked_box_count": run.MaskedBoxCount,
		"detection":        run.Detection,
		"detection_error":  nullString(run.DetectionError),
		"matcher":          run.Matcher,
		"duration_ms":      run.DurationMs,
		"created_at":       run.CreatedAt.Format(timeLayout),
	}
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	var me *services.MaskError
	if !errors.As(err, &me) {
		return http.StatusInternalServerError
	}
	switch me.Code {
	case services.ErrorUploadInvalid:
		return http.StatusBadRequest
	case services.ErrorUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case services.ErrorDetectionFailed:
		return http.StatusBadGateway
	}
	if me.ClientFault() {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// userMessage reports the code and message of a pipeline error. Causes stay
// in the logs: they carry paths and ghostscript stderr.
func userMessage(err error) string {
	var me *services.MaskError
	if !errors.As(err, &me) {
		return "internal error"
	}
	return fmt.Sprintf("%s: %s", me.Code, me.Message)
}

func writeMaskError(w http.ResponseWriter, err error) {
	payload := map[string]string{"error": userMessage(err)}
	if code := services.CodeOf(err); code != "" {
		payload["code"] = string(code)
	}
	writeJSON(w, statusFor(err), payload)
}

func writeFormError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid multipart form")
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
