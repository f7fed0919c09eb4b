// Package server exposes the HTTP surface of the aggregator: archive upload,
// cluster report serving, and rule content serving. Handlers are thin; all
// interesting work happens in the processor, storage, and content packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/insights-onprem/insights-aggregator/pkg/content"
	"github.com/insights-onprem/insights-aggregator/pkg/storage"
)

// RequestIDHeader optionally carries a caller-supplied request ID echoed in
// responses and logs.
const RequestIDHeader = "x-rh-insights-request-id"

// ArchiveProcessor is the slice of the ingestion pipeline the upload handler
// needs. *processor.Pipeline satisfies it.
type ArchiveProcessor interface {
	Process(ctx context.Context, archivePath string, orgID int) (clusterID string, ruleHits int, err error)
}

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar"}

// ServiceInfoHandler serves the root service descriptor.
func ServiceInfoHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "insights-aggregator",
			"status":  "running",
			"version": version,
		})
	}
}

// HealthHandler serves the liveness probe.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// UploadHandler accepts a multipart archive upload, stages it to a temporary
// file, and runs it through the ingestion pipeline. The temporary file is
// removed on every exit path.
func UploadHandler(pipeline ArchiveProcessor, maxUploadSize int64, tmpDir string, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing identity")
			return
		}

		file, header, err := uploadPart(r)
		if err != nil {
			writeErrorID(w, http.StatusBadRequest, err.Error(), requestID)
			return
		}
		defer file.Close()

		if !hasArchiveSuffix(header.Filename) {
			writeErrorID(w, http.StatusBadRequest,
				"file must be a .tar, .tar.gz, or .tgz archive", requestID)
			return
		}

		staged, err := stageUpload(file, header.Filename, tmpDir, maxUploadSize)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "exceeds maximum") {
				status = http.StatusBadRequest
			}
			writeErrorID(w, status, err.Error(), requestID)
			return
		}
		defer os.Remove(staged)

		logger.Info("processing upload",
			"requestID", requestID,
			"orgID", identity.OrgID,
			"account", identity.AccountNumber,
			"filename", header.Filename)

		start := time.Now()
		clusterID, hits, err := pipeline.Process(r.Context(), staged, identity.OrgID)
		if err != nil {
			metrics.observeUpload("failure", 0, time.Since(start).Seconds())
			logger.Error("archive processing failed", "requestID", requestID, "error", err)
			writeErrorID(w, http.StatusInternalServerError,
				fmt.Sprintf("archive processing failed: %v", err), requestID)
			return
		}
		metrics.observeUpload("success", hits, time.Since(start).Seconds())

		logger.Info("upload processed",
			"requestID", requestID, "cluster", clusterID, "rulesFound", hits)

		writeJSON(w, http.StatusAccepted, uploadResponse{
			RequestID:  requestID,
			Status:     "processed",
			ClusterID:  clusterID,
			RulesFound: hits,
			UploadedAt: time.Now().UTC(),
		})
	}
}

// ClustersReportsHandler serves every stored report of the caller's
// organization, with rule hits enriched from the content index.
func ClustersReportsHandler(store *storage.Store, index *content.Index, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing identity")
			return
		}

		reports, err := store.ListReports(identity.OrgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list reports: %v", err))
			return
		}

		clusters := make(map[string]clusterReport, len(reports))
		for _, report := range reports {
			hits, err := store.ListRuleHits(identity.OrgID, report.Cluster)
			if err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list rule hits: %v", err))
				return
			}

			var body map[string]any
			if err := json.Unmarshal([]byte(report.Report), &body); err != nil {
				logger.Warn("stored report is not valid JSON", "cluster", report.Cluster, "error", err)
				body = map[string]any{}
			}

			hitResponses := make([]ruleHitResponse, len(hits))
			for i, hit := range hits {
				data := zeroTemplateData()
				if entry, ok := index.Get(hit.RuleFQDN, hit.ErrorKey); ok {
					data = templateDataFor(entry)
				}
				hitResponses[i] = ruleHitResponse{
					RuleFQDN:     hit.RuleFQDN,
					ErrorKey:     hit.ErrorKey,
					TemplateData: data,
					UpdatedAt:    hit.UpdatedAt,
				}
			}

			clusters[report.Cluster] = clusterReport{
				ClusterID:     report.Cluster,
				OrgID:         report.OrgID,
				Report:        body,
				ReportedAt:    report.ReportedAt,
				LastCheckedAt: report.LastCheckedAt,
				GatheredAt:    report.GatheredAt,
				RuleHits:      hitResponses,
			}
		}

		writeJSON(w, http.StatusOK, clustersReportsResponse{
			Status:   "ok",
			Clusters: clusters,
		})
	}
}

// ReportInfoHandler serves the processing version stamp for one cluster.
func ReportInfoHandler(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing identity")
			return
		}

		clusterID := chi.URLParam(r, "cluster")
		info, err := store.GetReportInfo(identity.OrgID, clusterID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get report info: %v", err))
			return
		}
		if info == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no report info for cluster %q", clusterID))
			return
		}

		var blob map[string]any
		if err := json.Unmarshal([]byte(info.VersionInfo), &blob); err != nil {
			blob = map[string]any{"raw": info.VersionInfo}
		}

		writeJSON(w, http.StatusOK, reportInfoResponse{
			Status:      "ok",
			ClusterID:   clusterID,
			VersionInfo: blob,
		})
	}
}

// ContentHandler serves the nested rule content format. The payload is
// reshaped once at construction; the index never changes afterwards.
func ContentHandler(index *content.Index) http.HandlerFunc {
	modules := content.ServingFormat(index.All())
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, contentResponse{
			Status:  "ok",
			Content: modules,
		})
	}
}

// uploadPart finds the archive part of a multipart request. The canonical
// field name is "upload"; "file" is accepted for older clients.
func uploadPart(r *http.Request) (io.ReadCloser, *multipartHeader, error) {
	for _, field := range []string{"upload", "file"} {
		file, header, err := r.FormFile(field)
		if err == nil {
			if header.Filename == "" {
				file.Close()
				return nil, nil, fmt.Errorf("no filename provided")
			}
			return file, &multipartHeader{Filename: header.Filename}, nil
		}
	}
	return nil, nil, fmt.Errorf("missing archive upload field")
}

// multipartHeader carries the upload metadata the handler needs.
type multipartHeader struct {
	Filename string
}

func hasArchiveSuffix(name string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// stageUpload copies the uploaded stream to a temporary file, enforcing the
// upload size cap during the copy.
func stageUpload(src io.Reader, filename, tmpDir string, maxSize int64) (string, error) {
	suffix := ".tar"
	for _, s := range []string{".tar.gz", ".tgz"} {
		if strings.HasSuffix(filename, s) {
			suffix = s
			break
		}
	}

	if tmpDir != "" {
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return "", fmt.Errorf("create upload dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(tmpDir, "upload-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp upload file: %w", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(src, maxSize+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if written > maxSize {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file size exceeds maximum allowed size of %d bytes", maxSize)
	}

	return tmp.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorID(w http.ResponseWriter, status int, msg, requestID string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID})
}
