package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store provides conflict-tolerant persistence for reports, rule hits, and
// report info records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the report, rule_hit, and report_info tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Report{}); err != nil {
		return fmt.Errorf("auto-migrate report: %w", err)
	}
	if err := s.db.AutoMigrate(&RuleHit{}); err != nil {
		return fmt.Errorf("auto-migrate rule_hit: %w", err)
	}
	if err := s.db.AutoMigrate(&ReportInfo{}); err != nil {
		return fmt.Errorf("auto-migrate report_info: %w", err)
	}
	return nil
}

// UpsertReport inserts the report row for (orgID, cluster) or, on conflict,
// overwrites report and last_checked_at while preserving reported_at from
// the original insert. gathered_at is only overwritten when the caller
// supplies a value. The whole operation is a single INSERT ... ON CONFLICT
// statement, so concurrent upserts for the same cluster cannot lose updates.
func (s *Store) UpsertReport(orgID int, cluster, report string, gatheredAt *time.Time) error {
	now := time.Now().UTC()

	row := &Report{
		OrgID:         orgID,
		Cluster:       cluster,
		Report:        report,
		ReportedAt:    now,
		LastCheckedAt: now,
		KafkaOffset:   0,
	}
	if gatheredAt != nil {
		row.GatheredAt = gatheredAt
	} else {
		row.GatheredAt = &now
	}

	updates := []string{"report", "last_checked_at"}
	if gatheredAt != nil {
		updates = append(updates, "gathered_at")
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "cluster"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

// GetReport returns the report for a cluster, or nil, nil when none exists.
func (s *Store) GetReport(orgID int, cluster string) (*Report, error) {
	var row Report
	err := s.db.Where("org_id = ? AND cluster = ?", orgID, cluster).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &row, nil
}

// ListReports returns all reports for an organization.
func (s *Store) ListReports(orgID int) ([]Report, error) {
	var rows []Report
	if err := s.db.Where("org_id = ?", orgID).Order("cluster ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return rows, nil
}

// UpsertRuleHit inserts a rule hit or, on conflict with the (org, cluster,
// rule, error key) primary key, refreshes only updated_at.
func (s *Store) UpsertRuleHit(orgID int, clusterID, ruleFQDN, errorKey string) error {
	row := &RuleHit{
		OrgID:     orgID,
		ClusterID: clusterID,
		RuleFQDN:  ruleFQDN,
		ErrorKey:  errorKey,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "org_id"}, {Name: "cluster_id"}, {Name: "rule_fqdn"}, {Name: "error_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert rule hit: %w", err)
	}
	return nil
}

// DeleteRuleHitsForCluster removes every rule hit for a cluster and returns
// the number of rows removed.
func (s *Store) DeleteRuleHitsForCluster(orgID int, clusterID string) (int64, error) {
	result := s.db.Where("org_id = ? AND cluster_id = ?", orgID, clusterID).Delete(&RuleHit{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete rule hits: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReplaceRuleHits swaps the full rule hit set for a cluster inside one
// transaction, so readers never observe the empty window between the delete
// and the inserts, and concurrent reprocessing runs serialize instead of
// interleaving.
func (s *Store) ReplaceRuleHits(orgID int, clusterID string, hits []RuleHit) error {
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ? AND cluster_id = ?", orgID, clusterID).
			Delete(&RuleHit{}).Error; err != nil {
			return fmt.Errorf("delete existing rule hits: %w", err)
		}
		for i := range hits {
			row := RuleHit{
				OrgID:     orgID,
				ClusterID: clusterID,
				RuleFQDN:  hits[i].RuleFQDN,
				ErrorKey:  hits[i].ErrorKey,
				UpdatedAt: now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "org_id"}, {Name: "cluster_id"}, {Name: "rule_fqdn"}, {Name: "error_key"},
				},
				DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("insert rule hit %s/%s: %w", row.RuleFQDN, row.ErrorKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace rule hits: %w", err)
	}
	return nil
}

// ListRuleHits returns the current rule hit set for a cluster.
func (s *Store) ListRuleHits(orgID int, clusterID string) ([]RuleHit, error) {
	var rows []RuleHit
	err := s.db.Where("org_id = ? AND cluster_id = ?", orgID, clusterID).
		Order("rule_fqdn ASC, error_key ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list rule hits: %w", err)
	}
	return rows, nil
}

// UpsertReportInfo inserts the version stamp for a cluster or overwrites it
// wholesale on conflict.
func (s *Store) UpsertReportInfo(orgID int, clusterID, versionInfo string) error {
	row := &ReportInfo{
		OrgID:       orgID,
		ClusterID:   clusterID,
		VersionInfo: versionInfo,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "cluster_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version_info"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert report info: %w", err)
	}
	return nil
}

// GetReportInfo returns the version stamp for a cluster, or nil, nil when
// the cluster has never been processed.
func (s *Store) GetReportInfo(orgID int, clusterID string) (*ReportInfo, error) {
	var row ReportInfo
	err := s.db.Where("org_id = ? AND cluster_id = ?", orgID, clusterID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get report info: %w", err)
	}
	return &row, nil
}
