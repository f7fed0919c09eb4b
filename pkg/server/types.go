package server

import (
	"time"

	"github.com/insights-onprem/insights-aggregator/pkg/content"
)

// uploadResponse acknowledges an accepted and processed archive.
type uploadResponse struct {
	RequestID  string    `json:"request_id"`
	Status     string    `json:"status"`
	ClusterID  string    `json:"cluster_id"`
	RulesFound int       `json:"rules_found"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// templateData is the per-hit content blob served inside cluster reports.
// Misses in the content index produce the zero-valued template.
type templateData struct {
	Description string   `json:"description"`
	Generic     string   `json:"generic"`
	Reason      string   `json:"reason"`
	Resolution  string   `json:"resolution"`
	MoreInfo    string   `json:"more_info"`
	TotalRisk   int      `json:"total_risk"`
	Likelihood  int      `json:"likelihood"`
	Impact      int      `json:"impact"`
	PublishDate string   `json:"publish_date"`
	Tags        []string `json:"tags"`
}

// ruleHitResponse is one enriched rule hit within a cluster report.
type ruleHitResponse struct {
	RuleFQDN     string       `json:"rule_fqdn"`
	ErrorKey     string       `json:"error_key"`
	TemplateData templateData `json:"template_data"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// clusterReport is the serving shape of one cluster's stored report.
type clusterReport struct {
	ClusterID     string            `json:"cluster_id"`
	OrgID         int               `json:"org_id"`
	Report        map[string]any    `json:"report"`
	ReportedAt    time.Time         `json:"reported_at"`
	LastCheckedAt time.Time         `json:"last_checked_at"`
	GatheredAt    *time.Time        `json:"gathered_at"`
	RuleHits      []ruleHitResponse `json:"rule_hits"`
}

// clustersReportsResponse maps cluster IDs to their reports.
type clustersReportsResponse struct {
	Status   string                   `json:"status"`
	Clusters map[string]clusterReport `json:"clusters"`
}

// contentResponse wraps the nested content serving format.
type contentResponse struct {
	Status  string                  `json:"status"`
	Content []content.ModuleContent `json:"content"`
}

// reportInfoResponse serves a cluster's processing version stamp.
type reportInfoResponse struct {
	Status      string         `json:"status"`
	ClusterID   string         `json:"cluster"`
	VersionInfo map[string]any `json:"info"`
}

func zeroTemplateData() templateData {
	return templateData{
		TotalRisk:  1,
		Likelihood: 1,
		Impact:     1,
		Tags:       []string{},
	}
}

func templateDataFor(entry *content.RuleContent) templateData {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	return templateData{
		Description: entry.Description,
		Generic:     entry.Generic,
		Reason:      entry.Reason,
		Resolution:  entry.Resolution,
		MoreInfo:    entry.MoreInfo,
		TotalRisk:   entry.TotalRisk,
		Likelihood:  entry.Likelihood,
		Impact:      entry.Impact,
		PublishDate: entry.PublishDate,
		Tags:        tags,
	}
}
