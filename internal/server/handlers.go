package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/ledger"
	"github.com/ginjaninja78/nfe-classifier/internal/pipeline"
	"github.com/ginjaninja78/nfe-classifier/pkg/utils"
)

// ArchivesDir is the folder under work_dir that keeps finished bundles.
const ArchivesDir = "archives"

// multipart parts above this size spill to disk
const formMemory = 32 << 20

// Form field aliases accepted for each job parameter, first non-blank wins.
var (
	companyFields = []string{"empresa", "company", "codigoEmpresa"}
	fromFields    = []string{"dataIni", "data_ini", "dataInicial", "startDate"}
	toFields      = []string{"dataFim", "data_fim", "dataFinal", "endDate"}
)

type jobRequest struct {
	Company string `form:"empresa" validate:"required"`
	From    string `form:"dataIni" validate:"required"`
	To      string `form:"dataFim" validate:"required"`
	Files   []*multipart.FileHeader `form:"files" validate:"min=1"`
}

type jobResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
	Archive   string `json:"archive,omitempty"`
	Log       string `json:"log,omitempty"`
	UploadURI string `json:"upload_uri,omitempty"`
	Documents int    `json:"documents,omitempty"`
	Placed    int    `json:"placed,omitempty"`
	Deferred  int    `json:"deferred,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
	Failures  int    `json:"failures,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, jobResponse{OK: false, Error: msg, Details: details})
}

func pick(form *multipart.Form, names ...string) string {
	for _, n := range names {
		for _, v := range form.Value[n] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// =============================================================================
// POST /classify-suppliers
// =============================================================================

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	log := s.log.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		fail(w, http.StatusBadRequest, "invalid multipart body", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	req := jobRequest{
		Company: pick(form, companyFields...),
		From:    pick(form, fromFields...),
		To:      pick(form, toFields...),
		Files:   append(append([]*multipart.FileHeader{}, form.File["files"]...), form.File["file"]...),
	}
	if err := config.Validate(req); err != nil {
		fail(w, http.StatusBadRequest, "missing parameters", err.Error())
		return
	}

	from, err := ledger.ParseDate(req.From)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid date", err.Error())
		return
	}
	to, err := ledger.ParseDate(req.To)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid date", err.Error())
		return
	}
	if to.Before(from) {
		fail(w, http.StatusBadRequest, "invalid period", "end date is before start date")
		return
	}

	jobDir := filepath.Join(s.cfg.Server.WorkDir, "job_"+uuid.NewString())
	inputDir := filepath.Join(jobDir, "input")
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			log.Warn().Err(err).Str("dir", jobDir).Msg("job cleanup failed")
		}
	}()

	if err := saveUploads(req.Files, inputDir); err != nil {
		log.Error().Err(err).Msg("upload could not be saved")
		fail(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	jobLog := log.With().Str("job", filepath.Base(jobDir)).Logger()
	res, err := s.run(r.Context(), pipeline.Options{
		InputDir:   inputDir,
		Company:    req.Company,
		From:       from,
		To:         to,
		Config:     s.cfg,
		OpenLookup: s.lookup,
		Uploader:   s.uploader,
		TempDir:    jobDir,
		Log:        &jobLog,
	})
	if err != nil {
		jobLog.Error().Err(err).Str("kind", faults.KindOf(err).String()).Msg("job failed")
		fail(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	archive, err := s.keepArchive(res.Archive)
	if err != nil {
		jobLog.Error().Err(err).Msg("bundle could not be kept")
		fail(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	jobLog.Info().Str("archive", archive).Int("documents", res.Documents).Msg("job finished")

	writeJSON(w, http.StatusOK, jobResponse{
		OK:        true,
		Archive:   "/archives/" + filepath.Base(archive),
		Log:       fmt.Sprintf("ZIP_OK:%s\nConcluido. Resultados em: %s", archive, filepath.Base(res.OutputDir)),
		UploadURI: res.UploadURI,
		Documents: res.Documents,
		Placed:    res.Placed(),
		Deferred:  res.Deferred,
		Skipped:   res.Skipped,
		Failures:  len(res.Failures),
	})
}

// saveUploads writes every part under dir by its base name. Repeated names get
// a numeric suffix.
func saveUploads(files []*multipart.FileHeader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	for _, fh := range files {
		name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(fh.Filename, "\\", "/")))
		if name == "/" || name == "." {
			name = "upload"
		}
		if err := saveUpload(fh, dir, name); err != nil {
			return err
		}
	}
	return nil
}

func saveUpload(fh *multipart.FileHeader, dir, name string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := utils.UniquePath(dir, name)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}

// keepArchive moves the bundle out of the job folder and drops bundles older
// than the retention window.
func (s *Server) keepArchive(bundle string) (string, error) {
	dir := filepath.Join(s.cfg.Server.WorkDir, ArchivesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archives directory: %w", err)
	}

	if n, err := utils.CleanOldArchives(dir, s.cfg.Server.ArchiveRetention); err != nil {
		s.log.Warn().Err(err).Msg("archive cleanup failed")
	} else if n > 0 {
		s.log.Info().Int("removed", n).Msg("expired archives removed")
	}

	dst, err := utils.UniquePath(dir, filepath.Base(bundle))
	if err != nil {
		return "", err
	}
	if err := os.Rename(bundle, dst); err != nil {
		return "", fmt.Errorf("failed to move bundle: %w", err)
	}
	return filepath.Abs(dst)
}

// =============================================================================
// GET /archives/{name}
// =============================================================================

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || !strings.HasPrefix(name, utils.BundlePrefix) || filepath.Ext(name) != utils.ArchiveExt {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.cfg.Server.WorkDir, ArchivesDir, name)
	if !utils.FileExists(path) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
