package report

import (
	"context"
	"fmt"
)

// MockConfidence is the score carried by Fixed reports.
const MockConfidence = 82

// Fixed returns a canned report without calling any backend. It is the
// generator selected by llm_type "mock".
type Fixed struct{}

// Model implements Generator.
func (Fixed) Model() string { return "mock" }

// Generate implements Generator.
func (Fixed) Generate(_ context.Context, eventDescription string) (*Report, error) {
	summary := fmt.Sprintf(`INCIDENT SUMMARY
Event: %s
Severity: Medium
Status: Active monitoring required

IMPACT ANALYSIS
- Estimated delay: 2-4 hours
- Affected shipments: 1-3 units
- Financial impact: $2,000 - $5,000
- Customer notification: Required

RECOMMENDED ACTIONS
1. Contact carrier for updated ETA
2. Notify affected customers within 1 hour
3. Assess alternative routing options
4. Document incident for insurance purposes
5. Update tracking systems

CONFIDENCE SCORE
This analysis has a confidence score of %d based on historical incident patterns and current data.`, eventDescription, MockConfidence)

	return &Report{Summary: summary, ConfidenceScore: MockConfidence, Model: "mock", Raw: summary}, nil
}

// Check implements Checker.
func (Fixed) Check(context.Context) ModelStatus {
	return ModelStatus{OK: true, Detail: "mock generator is always available"}
}

// Degraded builds the local fallback report used when the generator fails and
// degraded mode is enabled.
func Degraded(eventDescription string, confidence int) *Report {
	summary := fmt.Sprintf(`DEGRADED REPORT
Event: %s
The report generator was unavailable. This record restates the submitted
event without analysis and carries a reduced confidence score.`, eventDescription)

	return &Report{Summary: summary, ConfidenceScore: confidence, Model: "degraded", Raw: summary, Degraded: true}
}

var (
	_ Generator = Fixed{}
	_ Checker   = Fixed{}
)
