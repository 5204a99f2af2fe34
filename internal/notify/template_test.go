package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/alerts"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

func TestDefaultTemplateRendersFields(t *testing.T) {
	a := &alerts.Alert{
		RuleName:        "LargeTransaction",
		ProgramName:     "Orca",
		Severity:        rules.SeverityMedium,
		Message:         "large transaction observed",
		OccurrenceCount: 2,
		Timestamp:       time.Now().Add(-2 * time.Minute),
	}
	rendered, err := DefaultTemplate.Render(a)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(rendered.Subject, "MEDIUM") || !strings.Contains(rendered.Subject, "LargeTransaction") {
		t.Fatalf("unexpected subject: %q", rendered.Subject)
	}
	if !strings.Contains(rendered.Body, "large transaction observed") {
		t.Fatalf("unexpected body: %q", rendered.Body)
	}
}

func TestCompileRejectsInvalidTemplate(t *testing.T) {
	if _, err := Compile("broken", "{{.Unclosed", "body"); err == nil {
		t.Fatal("expected compile error for malformed template")
	}
}

func TestPlaintextSummaryFallback(t *testing.T) {
	a := &alerts.Alert{RuleName: "OracleDeviation", ProgramName: "Pyth", Severity: rules.SeverityHigh, Message: "deviation"}
	r := PlaintextSummary(a)
	if !strings.Contains(r.Subject, "HIGH") {
		t.Fatalf("unexpected subject: %q", r.Subject)
	}
}
