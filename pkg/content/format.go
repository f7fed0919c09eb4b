package content

// Serving format types mirror the nested structure of the hosted content
// service API: one object per rule module, each bundling a plugin descriptor
// and a map of error keys. Field names, including the unconventional
// HasReason, are part of the wire format consumed by existing clients.

// PluginInfo describes the rule module. Only PythonModule is derivable from
// the content tree; the remaining fields are always empty.
type PluginInfo struct {
	Name         string `json:"name"`
	NodeID       string `json:"node_id"`
	ProductCode  string `json:"product_code"`
	PythonModule string `json:"python_module"`
}

// ErrorKeyMetadata carries per-error-key descriptive metadata.
type ErrorKeyMetadata struct {
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Likelihood  int      `json:"likelihood"`
	PublishDate string   `json:"publish_date"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
}

// ErrorKeyContent is the per-error-key payload within a module.
type ErrorKeyContent struct {
	Metadata   ErrorKeyMetadata `json:"metadata"`
	TotalRisk  int              `json:"total_risk"`
	Generic    string           `json:"generic"`
	Summary    string           `json:"summary"`
	Resolution string           `json:"resolution"`
	MoreInfo   string           `json:"more_info"`
	Reason     string           `json:"reason"`
	HasReason  bool             `json:"HasReason"`
}

// ModuleContent groups all error keys of one rule module.
type ModuleContent struct {
	Plugin     PluginInfo                 `json:"plugin"`
	ErrorKeys  map[string]ErrorKeyContent `json:"error_keys"`
	Generic    string                     `json:"generic"`
	Summary    string                     `json:"summary"`
	Resolution string                     `json:"resolution"`
	MoreInfo   string                     `json:"more_info"`
	Reason     string                     `json:"reason"`
	HasReason  bool                       `json:"HasReason"`
}

var impactStrings = map[int]string{
	1: "Low Impact",
	2: "Medium Impact",
	3: "High Impact",
	4: "Critical Impact",
}

// ImpactString renders a numeric impact on the serving format's label scale.
// Out-of-range values render as medium.
func ImpactString(impact int) string {
	if s, ok := impactStrings[impact]; ok {
		return s
	}
	return impactStrings[2]
}

// ServingFormat reshapes a flat list of content entries into the nested
// module list served by the content endpoint. The transform is pure and
// deterministic for a fixed entry order; module-level text comes from the
// first entry seen for each module.
func ServingFormat(entries []*RuleContent) []ModuleContent {
	byModule := map[string]int{}
	modules := []ModuleContent{}

	for _, entry := range entries {
		i, ok := byModule[entry.RuleFQDN]
		if !ok {
			i = len(modules)
			byModule[entry.RuleFQDN] = i
			modules = append(modules, ModuleContent{
				Plugin:     PluginInfo{PythonModule: entry.RuleFQDN},
				ErrorKeys:  map[string]ErrorKeyContent{},
				Generic:    entry.Generic,
				Resolution: entry.Resolution,
				MoreInfo:   entry.MoreInfo,
				Reason:     entry.Reason,
				HasReason:  entry.HasReason(),
			})
		}

		tags := entry.Tags
		if tags == nil {
			tags = []string{}
		}
		modules[i].ErrorKeys[entry.ErrorKey] = ErrorKeyContent{
			Metadata: ErrorKeyMetadata{
				Description: entry.Description,
				Impact:      ImpactString(entry.Impact),
				Likelihood:  entry.Likelihood,
				PublishDate: entry.PublishDate,
				Status:      "active",
				Tags:        tags,
			},
			TotalRisk:  entry.TotalRisk,
			Generic:    entry.Generic,
			Resolution: entry.Resolution,
			MoreInfo:   entry.MoreInfo,
			Reason:     entry.Reason,
			HasReason:  entry.HasReason(),
		}
	}

	return modules
}
