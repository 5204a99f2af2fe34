package notify

import (
	"github.com/hasip-timurtas/solana-watchtower/internal/alerts"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

// GlobalFilter is one entry of config's "global.filters[]" group.
type GlobalFilter struct {
	Name       string
	Severities map[rules.Severity]struct{}
	Channels   map[string]struct{}
	Include    bool
}

// permits applies the include/exclude filter rule: explicit include
// filters are a whitelist, exclude filters veto.
func (f GlobalFilter) permits(a *alerts.Alert, channel string) bool {
	if _, chMatches := f.Channels[channel]; len(f.Channels) > 0 && !chMatches {
		return true // filter doesn't apply to this channel
	}
	_, sevMatches := f.Severities[a.Severity]
	sevMatches = sevMatches || len(f.Severities) == 0
	if f.Include {
		return sevMatches // only listed severities pass
	}
	return !sevMatches // listed severities are vetoed
}

// Allowed reports whether channel should deliver alert a: it must clear
// the severity floor and every matching filter must permit it.
func Allowed(a *alerts.Alert, channel string, minSeverity rules.Severity, filters []GlobalFilter) bool {
	if a.Severity < minSeverity {
		return false
	}
	for _, f := range filters {
		if !f.permits(a, channel) {
			return false
		}
	}
	return true
}
