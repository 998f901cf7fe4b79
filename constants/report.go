package constants

import "strings"

// ReportCategory identifies the kind of artifact the agent produced.
type ReportCategory string

const (
	ReportDataFlow     ReportCategory = "DATA_FLOW"
	ReportThreatModel  ReportCategory = "THREAT_MODEL"
	ReportRiskRegister ReportCategory = "RISK_REGISTER"
)

// reportKeywords maps each category to the filename substrings that select
// it. Matching is case-insensitive and extension-agnostic; the agent is not
// consistent about naming, so each family carries a few spellings.
var reportKeywords = map[ReportCategory][]string{
	ReportDataFlow:     {"data_flow", "dataflow", "data-flow", "flow_diagram"},
	ReportThreatModel:  {"threat_model", "threatmodel", "threat-model"},
	ReportRiskRegister: {"risk_register", "riskregister", "risk-register", "risk_registry"},
}

// ClassifyReportFilename returns the category a filename belongs to, or
// ("", false) when it matches none of the keyword families.
func ClassifyReportFilename(name string) (ReportCategory, bool) {
	lower := strings.ToLower(name)
	for _, cat := range []ReportCategory{ReportDataFlow, ReportThreatModel, ReportRiskRegister} {
		for _, kw := range reportKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat, true
			}
		}
	}
	return "", false
}
