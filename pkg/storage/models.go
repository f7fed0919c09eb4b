// Package storage persists reports, rule hits, and report metadata in a
// relational database through GORM. All write operations are single
// conflict-resolving statements so concurrent reprocessing of the same
// cluster never loses updates.
package storage

import "time"

// Report holds the latest full report for one cluster within an
// organization. ReportedAt is set on first insert and never changes;
// LastCheckedAt moves on every reconciliation.
type Report struct {
	OrgID         int        `gorm:"column:org_id;primaryKey"`
	Cluster       string     `gorm:"column:cluster;primaryKey;type:varchar(256)"`
	Report        string     `gorm:"column:report;not null"`
	ReportedAt    time.Time  `gorm:"column:reported_at"`
	LastCheckedAt time.Time  `gorm:"column:last_checked_at;index:idx_report_last_checked"`
	KafkaOffset   int64      `gorm:"column:kafka_offset;default:0"`
	GatheredAt    *time.Time `gorm:"column:gathered_at"`
}

// TableName returns the GORM table name.
func (Report) TableName() string { return "report" }

// RuleHit records that one rule fired under one error key for a cluster
// during its most recent analysis.
type RuleHit struct {
	OrgID     int       `gorm:"column:org_id;primaryKey;index:idx_rule_hit_org_cluster,priority:1"`
	ClusterID string    `gorm:"column:cluster_id;primaryKey;type:varchar(256);index:idx_rule_hit_org_cluster,priority:2"`
	RuleFQDN  string    `gorm:"column:rule_fqdn;primaryKey;type:varchar(256)"`
	ErrorKey  string    `gorm:"column:error_key;primaryKey;type:varchar(256)"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (RuleHit) TableName() string { return "rule_hit" }

// ReportInfo stores the processing version stamp for a cluster. The blob is
// overwritten wholesale on every successful run; no history is kept.
type ReportInfo struct {
	OrgID       int    `gorm:"column:org_id;primaryKey"`
	ClusterID   string `gorm:"column:cluster_id;primaryKey;type:varchar(256)"`
	VersionInfo string `gorm:"column:version_info;not null"`
}

// TableName returns the GORM table name.
func (ReportInfo) TableName() string { return "report_info" }
