// Package processor orchestrates archive ingestion: extraction, size
// validation, cluster identity resolution, analysis engine invocation, rule
// hit extraction, and persistence. The external collaborators (extractor,
// engine, hit extractor, store) are injected; the pipeline itself holds no
// state beyond its configuration.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/insights-onprem/insights-aggregator/pkg/storage"
)

// metadata files scanned when the extracted directory name does not yield a
// cluster identity.
var clusterMetadataFiles = []string{"metadata.json", "insights_archive_metadata.json"}

// ResultStore is the slice of the storage layer the pipeline writes to.
// *storage.Store satisfies it.
type ResultStore interface {
	UpsertReport(orgID int, cluster, report string, gatheredAt *time.Time) error
	ReplaceRuleHits(orgID int, clusterID string, hits []storage.RuleHit) error
	UpsertReportInfo(orgID int, clusterID, versionInfo string) error
}

// Pipeline processes uploaded archives. It is safe for concurrent use;
// every run works on its own extraction directory.
type Pipeline struct {
	cfg       Config
	extractor Extractor
	engine    Engine
	hits      HitExtractor
	store     ResultStore
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. A nil extractor defaults to TarExtractor
// and a nil hit extractor to the keyword heuristic with the configured
// default error key.
func NewPipeline(cfg Config, extractor Extractor, engine Engine, hits HitExtractor, store ResultStore, logger *slog.Logger) *Pipeline {
	if extractor == nil {
		extractor = TarExtractor{}
	}
	if hits == nil {
		hits = &KeywordHitExtractor{DefaultErrorKey: cfg.DefaultErrorKey}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		engine:    engine,
		hits:      hits,
		store:     store,
		logger:    logger,
	}
}

// Process runs the full ingestion pipeline over one uploaded archive and
// returns the resolved cluster ID and the number of rule hits persisted.
// Every fatal failure is a *ProcessingError; nothing is persisted unless all
// preceding stages succeeded.
func (p *Pipeline) Process(ctx context.Context, archivePath string, orgID int) (string, int, error) {
	p.logger.Info("processing archive", "archive", archivePath, "orgID", orgID)

	extractCtx := ctx
	if p.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, p.cfg.ExtractTimeout)
		defer cancel()
	}

	extraction, err := p.extractor.Extract(extractCtx, archivePath, p.cfg.ExtractTmpDir)
	if err != nil {
		return "", 0, failed(StageExtract, err)
	}
	defer func() {
		if err := extraction.Close(); err != nil {
			p.logger.Warn("failed to clean up extraction dir", "dir", extraction.Root, "error", err)
		}
	}()

	if err := p.validateSize(extraction.Root); err != nil {
		return "", 0, failed(StageValidate, err)
	}

	clusterID, err := p.resolveClusterID(extraction)
	if err != nil {
		return "", 0, failed(StageResolve, err)
	}
	p.logger.Info("processing cluster", "cluster", clusterID)

	components := selectComponents(p.engine.Components(), p.cfg.TargetComponents)
	result, err := p.engine.Analyze(ctx, extraction.Dir, components)
	if err != nil {
		return "", 0, failed(StageAnalyze, fmt.Errorf("analysis failed: %w", err))
	}

	hits := p.hits.Extract(result)
	p.logger.Info("extracted rule hits", "cluster", clusterID, "hits", len(hits))

	if err := p.persist(orgID, clusterID, result, hits, len(components)); err != nil {
		return "", 0, failed(StagePersist, err)
	}

	p.logger.Info("archive processed", "cluster", clusterID, "hits", len(hits))
	return clusterID, len(hits), nil
}

// validateSize sums the extracted tree's file sizes against the configured
// limit. The bound is inclusive: a tree of exactly the limit fails.
func (p *Pipeline) validateSize(root string) error {
	if p.cfg.UnpackedSizeLimit < 0 {
		return nil
	}

	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("measure extracted archive: %w", err)
	}

	if total >= p.cfg.UnpackedSizeLimit {
		return fmt.Errorf("%w: %d >= %d bytes", ErrSizeLimitExceeded, total, p.cfg.UnpackedSizeLimit)
	}
	return nil
}

// resolveClusterID prefers the extracted top-level directory's name, then
// falls back to the cluster_id field of a known metadata file.
func (p *Pipeline) resolveClusterID(extraction *Extraction) (string, error) {
	if extraction.Dir != extraction.Root {
		if name := filepath.Base(extraction.Dir); name != "" && name != "." {
			return name, nil
		}
	}

	for _, candidate := range clusterMetadataFiles {
		raw, err := os.ReadFile(filepath.Join(extraction.Dir, candidate))
		if err != nil {
			continue
		}
		var meta struct {
			ClusterID string `json:"cluster_id"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			p.logger.Warn("failed to parse archive metadata", "file", candidate, "error", err)
			continue
		}
		if meta.ClusterID != "" {
			return meta.ClusterID, nil
		}
	}

	return "", ErrClusterIDNotFound
}

// persist writes the report, swaps the rule hit set, and stamps the report
// info, all for one successful run.
func (p *Pipeline) persist(orgID int, clusterID, result string, hits []Hit, componentCount int) error {
	now := time.Now().UTC()

	reportBody, err := json.Marshal(map[string]any{
		"cluster_id":   clusterID,
		"rule_count":   len(hits),
		"processed_at": now.Format(time.RFC3339),
		"results":      result,
	})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := p.store.UpsertReport(orgID, clusterID, string(reportBody), &now); err != nil {
		return err
	}

	rows := make([]storage.RuleHit, len(hits))
	for i, hit := range hits {
		rows[i] = storage.RuleHit{RuleFQDN: hit.RuleFQDN, ErrorKey: hit.ErrorKey}
	}
	if err := p.store.ReplaceRuleHits(orgID, clusterID, rows); err != nil {
		return err
	}

	versionInfo, err := json.Marshal(map[string]any{
		"engine_version":   p.engine.Version(),
		"components_count": componentCount,
		"processed_at":     now.Format(time.RFC3339),
		"hit_extractor":    fmt.Sprintf("%T", p.hits),
	})
	if err != nil {
		return fmt.Errorf("encode version info: %w", err)
	}
	return p.store.UpsertReportInfo(orgID, clusterID, string(versionInfo))
}

var _ ResultStore = (*storage.Store)(nil)

// IsProcessingError reports whether err is a pipeline failure and returns it.
func IsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
