package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/insights-onprem/insights-aggregator/pkg/content"
	"github.com/insights-onprem/insights-aggregator/pkg/storage"
)

// stubPipeline returns canned processing results.
type stubPipeline struct {
	clusterID string
	hits      int
	err       error
	gotOrgID  int
	gotPath   string
}

func (p *stubPipeline) Process(ctx context.Context, archivePath string, orgID int) (string, int, error) {
	p.gotOrgID = orgID
	p.gotPath = archivePath
	if p.err != nil {
		return "", 0, p.err
	}
	return p.clusterID, p.hits, nil
}

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

// setupIndex builds a small content index on disk.
func setupIndex(t *testing.T) *content.Index {
	t.Helper()
	root := t.TempDir()
	keyDir := filepath.Join(root, "external", "rules", "nodes_check", "NODES_FAILED")
	require.NoError(t, os.MkdirAll(keyDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "external", "rules", "nodes_check", "plugin.yaml"),
		[]byte("plugin:\n  name: nodes_check\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "metadata.yaml"),
		[]byte("total_risk: 3\nlikelihood: 2\nimpact: high\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "generic.md"),
		[]byte("Nodes are failing.\n"), 0o644))

	idx, err := content.Load(root, slog.Default())
	require.NoError(t, err)
	return idx
}

func testRouter(t *testing.T, pipeline ArchiveProcessor, store *storage.Store) http.Handler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TempUploadDir = t.TempDir()
	return NewRouter(cfg, pipeline, store, setupIndex(t), nil, slog.Default())
}

// multipartUpload builds a multipart body with one archive part.
func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestServiceInfoEndpoint(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "insights-aggregator", body["service"])
	assert.Equal(t, "running", body["status"])
}

func TestUploadRequiresIdentity(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	body, contentType := multipartUpload(t, "upload", "a.tar.gz", []byte("data"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadRejectsWrongSuffix(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	body, contentType := multipartUpload(t, "upload", "notes.txt", []byte("data"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tar")
}

func TestUploadProcessesArchive(t *testing.T) {
	pipeline := &stubPipeline{clusterID: "cluster-abc", hits: 3}
	router := testRouter(t, pipeline, setupStore(t))
	body, contentType := multipartUpload(t, "upload", "archive.tar.gz", []byte("payload"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, "processed", resp.Status)
	assert.Equal(t, "cluster-abc", resp.ClusterID)
	assert.Equal(t, 3, resp.RulesFound)
	assert.Equal(t, 42, pipeline.gotOrgID)

	// The staged upload must be cleaned up after processing.
	_, err := os.Stat(pipeline.gotPath)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadAcceptsLegacyFileField(t *testing.T) {
	pipeline := &stubPipeline{clusterID: "cluster-abc"}
	router := testRouter(t, pipeline, setupStore(t))
	body, contentType := multipartUpload(t, "file", "archive.tar", []byte("payload"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestUploadProcessingFailure(t *testing.T) {
	pipeline := &stubPipeline{err: errors.New("analysis failed")}
	router := testRouter(t, pipeline, setupStore(t))
	body, contentType := multipartUpload(t, "upload", "archive.tar.gz", []byte("payload"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "archive processing failed")
}

func TestUploadSizeCap(t *testing.T) {
	store := setupStore(t)
	cfg := DefaultConfig()
	cfg.TempUploadDir = t.TempDir()
	cfg.MaxUploadSize = 10
	router := NewRouter(cfg, &stubPipeline{}, store, setupIndex(t), nil, slog.Default())

	body, contentType := multipartUpload(t, "upload", "big.tar.gz", bytes.Repeat([]byte("x"), 100))
	req := httptest.NewRequest(http.MethodPost, "/api/ingress/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds maximum")
}

func TestClustersReportsEnrichedFromContent(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.UpsertReport(42, "cluster-abc", `{"rule_count":2}`, nil))
	require.NoError(t, store.UpsertRuleHit(42, "cluster-abc",
		"ccx_rules_ocp.external.rules.nodes_check", "NODES_FAILED"))
	require.NoError(t, store.UpsertRuleHit(42, "cluster-abc", "rule.unknown", "MISSING_KEY"))

	router := testRouter(t, &stubPipeline{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/reports", nil)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp clustersReportsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Contains(t, resp.Clusters, "cluster-abc")

	cluster := resp.Clusters["cluster-abc"]
	assert.Equal(t, 42, cluster.OrgID)
	assert.Equal(t, float64(2), cluster.Report["rule_count"])
	require.Len(t, cluster.RuleHits, 2)

	// First hit has content, second one misses and gets the zero template.
	known := cluster.RuleHits[0]
	assert.Equal(t, "ccx_rules_ocp.external.rules.nodes_check", known.RuleFQDN)
	assert.Equal(t, "Nodes are failing.", known.TemplateData.Generic)
	assert.Equal(t, 3, known.TemplateData.TotalRisk)
	assert.Equal(t, 3, known.TemplateData.Impact)

	unknown := cluster.RuleHits[1]
	assert.Equal(t, "rule.unknown", unknown.RuleFQDN)
	assert.Empty(t, unknown.TemplateData.Generic)
	assert.Equal(t, 1, unknown.TemplateData.TotalRisk)
	assert.Equal(t, []string{}, unknown.TemplateData.Tags)
}

func TestClustersReportsScopedToOrg(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.UpsertReport(1, "cluster-a", "{}", nil))
	require.NoError(t, store.UpsertReport(2, "cluster-b", "{}", nil))

	router := testRouter(t, &stubPipeline{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/reports", nil)
	req.Header.Set(IdentityHeader, encodeIdentity("1", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp clustersReportsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Clusters, "cluster-a")
	assert.NotContains(t, resp.Clusters, "cluster-b")
}

func TestContentEndpoint(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/content", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp contentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ccx_rules_ocp.external.rules.nodes_check", resp.Content[0].Plugin.PythonModule)
	assert.Contains(t, resp.Content[0].ErrorKeys, "NODES_FAILED")
	assert.Equal(t, "High Impact", resp.Content[0].ErrorKeys["NODES_FAILED"].Metadata.Impact)
}

func TestReportInfoEndpoint(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.UpsertReportInfo(42, "cluster-abc", `{"engine_version":"1.2.3"}`))

	router := testRouter(t, &stubPipeline{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/cluster-abc/report/info", nil)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp reportInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cluster-abc", resp.ClusterID)
	assert.Equal(t, "1.2.3", resp.VersionInfo["engine_version"])
}

func TestReportInfoNotFound(t *testing.T) {
	router := testRouter(t, &stubPipeline{}, setupStore(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/never-seen/report/info", nil)
	req.Header.Set(IdentityHeader, encodeIdentity("42", "acct"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
