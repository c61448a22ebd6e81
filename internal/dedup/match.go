package dedup

import (
	"net/url"
	"strings"

	"github.com/lotas/tabgruppen/internal/types"
)

// IsURLMatch reports whether a and b identify the same page under mode.
// Unknown modes never match.
func IsURLMatch(a, b string, mode types.MatchMode) bool {
	if a == "" || b == "" {
		return false
	}
	switch mode {
	case types.MatchExact:
		return a == b
	case types.MatchIncludes:
		return strings.Contains(a, b) || strings.Contains(b, a)
	case types.MatchHostname:
		ua, ub, ok := parsePair(a, b)
		return ok && sameHost(ua, ub)
	case types.MatchHostnamePath:
		ua, ub, ok := parsePair(a, b)
		return ok && sameHost(ua, ub) && normalizePath(ua) == normalizePath(ub)
	default:
		return false
	}
}

func parsePair(a, b string) (*url.URL, *url.URL, bool) {
	ua, err := url.Parse(a)
	if err != nil || ua.Host == "" {
		return nil, nil, false
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Host == "" {
		return nil, nil, false
	}
	return ua, ub, true
}

// sameHost compares hostnames without the port, the way rule filters do.
func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// normalizePath drops a trailing slash so "/x/" and "/x" (and "" and "/")
// compare equal. Query and fragment are not part of the path.
func normalizePath(u *url.URL) string {
	return strings.TrimSuffix(u.EscapedPath(), "/")
}

type marker struct {
	tabID int
	url   string
}

// Markers remembers (tab, url) navigations already handled. It is owned by
// a single goroutine and is not safe for concurrent use.
type Markers struct {
	seen map[marker]struct{}
}

// NewMarkers returns an empty marker set.
func NewMarkers() *Markers {
	return &Markers{seen: make(map[marker]struct{})}
}

// ShouldProcess reports whether the (tabID, url) pair has not been handled.
func (m *Markers) ShouldProcess(tabID int, url string) bool {
	_, ok := m.seen[marker{tabID, url}]
	return !ok
}

// MarkProcessed records the (tabID, url) pair as handled.
func (m *Markers) MarkProcessed(tabID int, url string) {
	m.seen[marker{tabID, url}] = struct{}{}
}

// Len returns the number of remembered pairs.
func (m *Markers) Len() int {
	return len(m.seen)
}

// Sweep forgets every pair and returns how many were dropped.
func (m *Markers) Sweep() int {
	n := len(m.seen)
	if n > 0 {
		m.seen = make(map[marker]struct{})
	}
	return n
}
