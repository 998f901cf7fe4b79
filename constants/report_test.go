package constants

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyReportFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     ReportCategory
		matched  bool
	}{
		{"data flow snake", "data_flow_diagram.md", ReportDataFlow, true},
		{"data flow joined", "DATAFLOW.md", ReportDataFlow, true},
		{"data flow hyphen", "my-data-flow.html", ReportDataFlow, true},
		{"flow diagram alias", "flow_diagram_v2.svg", ReportDataFlow, true},
		{"threat model snake", "threat_model.md", ReportThreatModel, true},
		{"threat model mixed case", "Threat-Model-Final.pdf", ReportThreatModel, true},
		{"risk register snake", "risk_register.csv", ReportRiskRegister, true},
		{"risk registry variant", "risk_registry.md", ReportRiskRegister, true},
		{"substring inside name", "acme_threatmodel_2024.md", ReportThreatModel, true},
		{"unrelated file", "README.md", "", false},
		{"partial keyword", "flowers.txt", "", false},
		{"empty name", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ClassifyReportFilename(tc.filename)
			require.Equal(t, tc.matched, ok)
			if tc.matched {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusPending.Terminal())
	require.False(t, JobStatusProcessing.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
}
