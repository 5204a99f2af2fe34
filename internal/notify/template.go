// Package notify implements the alerting fan-out half: template
// rendering, rate limiting, batching, filtering, and channel adapters.
// Templates are compiled once at startup with template.Must, a
// fail-fast FuncMap idiom adapted from html/template to text/template
// since alert bodies target plaintext IM/webhook payloads, not a
// browser.
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/alerts"
)

var severityColor = map[string]string{
	"Critical": "#dc3545",
	"High":     "#fd7e14",
	"Medium":   "#ffc107",
	"Low":      "#28a745",
	"Info":     "#17a2b8",
}

// renderContext is the field set exposed to a template: the alert's
// fields, a human timestamp, an uppercased severity, and a
// severity-to-color mapping.
type renderContext struct {
	Alert           *alerts.Alert
	Severity        string
	SeverityUpper   string
	SeverityColor   string
	HumanTime       string
	OccurrenceCount int
}

func newRenderContext(a *alerts.Alert) renderContext {
	sev := a.Severity.String()
	return renderContext{
		Alert:           a,
		Severity:        sev,
		SeverityUpper:   strings.ToUpper(sev),
		SeverityColor:   severityColor[sev],
		HumanTime:       humantime(a.Timestamp),
		OccurrenceCount: a.OccurrenceCount,
	}
}

var funcMap = template.FuncMap{
	"upper": strings.ToUpper,
	"truncate": func(s string, n int) string {
		if n <= 0 || len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
	"default": func(fallback, value string) string {
		if strings.TrimSpace(value) == "" {
			return fallback
		}
		return value
	},
	"color":     func(severity string) string { return severityColor[severity] },
	"humantime": humantime,
}

func humantime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	age := time.Since(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return t.UTC().Format("2006-01-02 15:04 UTC")
	}
}

const defaultSubjectSource = `[{{.SeverityUpper}}] {{.Alert.RuleName}} on {{.Alert.ProgramName}}`
const defaultBodySource = `{{.Alert.Message}}
severity: {{.Severity}} ({{.SeverityColor}})
program: {{.Alert.ProgramName}}
occurrences: {{.OccurrenceCount}}
observed: {{.HumanTime}}`

// Template is a named, precompiled subject+body pair.
type Template struct {
	Name    string
	subject *template.Template
	body    *template.Template
}

// Rendered is the output of applying a Template to an alert.
type Rendered struct {
	Subject string
	Body    string
}

// Compile parses subject and body sources, failing fast: compilation
// errors are fatal at startup.
func Compile(name, subjectSrc, bodySrc string) (*Template, error) {
	subject, err := template.New(name + "-subject").Funcs(funcMap).Parse(subjectSrc)
	if err != nil {
		return nil, fmt.Errorf("compile subject template %q: %w", name, err)
	}
	body, err := template.New(name + "-body").Funcs(funcMap).Parse(bodySrc)
	if err != nil {
		return nil, fmt.Errorf("compile body template %q: %w", name, err)
	}
	return &Template{Name: name, subject: subject, body: body}, nil
}

// MustCompile is Compile, panicking on error (startup-time use only).
func MustCompile(name, subjectSrc, bodySrc string) *Template {
	t, err := Compile(name, subjectSrc, bodySrc)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTemplate is the built-in fallback used when a channel's
// ChannelConfig has no Template; a failed render falls back to
// PlaintextSummary instead.
var DefaultTemplate = MustCompile("default", defaultSubjectSource, defaultBodySource)

// Render applies the template to an alert. A render error is the
// caller's cue to downgrade to PlaintextSummary and count
// template_errors{channel}.
func (t *Template) Render(a *alerts.Alert) (Rendered, error) {
	ctx := newRenderContext(a)
	var subjectBuf, bodyBuf bytes.Buffer
	if err := t.subject.Execute(&subjectBuf, ctx); err != nil {
		return Rendered{}, fmt.Errorf("render subject: %w", err)
	}
	if err := t.body.Execute(&bodyBuf, ctx); err != nil {
		return Rendered{}, fmt.Errorf("render body: %w", err)
	}
	return Rendered{Subject: subjectBuf.String(), Body: bodyBuf.String()}, nil
}

// PlaintextSummary is the degraded-render fallback used when a render
// error forces a downgrade to a plaintext summary.
func PlaintextSummary(a *alerts.Alert) Rendered {
	return Rendered{
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity.String()), a.RuleName),
		Body:    fmt.Sprintf("%s (program=%s, occurrences=%d)", a.Message, a.ProgramName, a.OccurrenceCount),
	}
}
