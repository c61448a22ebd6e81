package rules

import (
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/lotas/tabgruppen/internal/types"
)

// filter is a compiled domainFilter. A nil host glob means the filter
// failed to compile and never matches.
type filter struct {
	host glob.Glob
	path string // optional path root, always starting with "/"
}

func (f *filter) matches(u *url.URL) bool {
	if f == nil || f.host == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || !f.host.Match(host) {
		return false
	}
	if f.path == "" || f.path == "/" {
		return true
	}
	p := u.EscapedPath()
	if p == f.path {
		return true
	}
	root := strings.TrimSuffix(f.path, "/")
	return strings.HasPrefix(p, root+"/")
}

// Matcher evaluates URLs against ordered rule lists. Compiled filters are
// cached by their source text, so a Matcher can be shared across settings
// reloads.
type Matcher struct {
	mu    sync.Mutex
	cache map[string]*filter
}

// NewMatcher returns an empty Matcher.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*filter)}
}

var defaultMatcher = NewMatcher()

// Match returns the first enabled rule whose domain filter matches rawURL,
// or nil. It uses a process-wide filter cache.
func Match(rawURL string, list []types.DomainRule) *types.DomainRule {
	return defaultMatcher.Match(rawURL, list)
}

// Match returns the first enabled rule, in list order, whose domain filter
// matches rawURL. Disabled rules are skipped even when their filter would
// match. The returned pointer aliases the list element.
func (m *Matcher) Match(rawURL string, list []types.DomainRule) *types.DomainRule {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	for i := range list {
		r := &list[i]
		if !r.Enabled {
			continue
		}
		if m.compiled(r.DomainFilter).matches(u) {
			return r
		}
	}
	return nil
}

// Matches reports whether a single domain filter matches rawURL.
func (m *Matcher) Matches(domainFilter, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.compiled(domainFilter).matches(u)
}

func (m *Matcher) compiled(domainFilter string) *filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.cache[domainFilter]; ok {
		return f
	}
	f, _ := compileFilter(domainFilter)
	m.cache[domainFilter] = f
	return f
}

// compileFilter converts a domainFilter into a host glob plus optional path
// root. A leading "*." matches the bare domain and any depth of subdomain;
// any other glob syntax in the host matches within a single label.
func compileFilter(domainFilter string) (*filter, error) {
	s := strings.TrimSpace(domainFilter)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if s == "" {
		return &filter{}, errEmptyFilter
	}

	hostPart, pathPart := s, ""
	if i := strings.IndexByte(s, '/'); i >= 0 {
		hostPart, pathPart = s[:i], s[i:]
	}
	// Hosts are case-insensitive; the path root is not.
	hostPart = strings.ToLower(hostPart)
	// Drop an explicit port; hosts are compared without it.
	if i := strings.LastIndexByte(hostPart, ':'); i >= 0 && !strings.Contains(hostPart[i:], "]") {
		hostPart = hostPart[:i]
	}

	pattern := hostPart
	if base, ok := strings.CutPrefix(hostPart, "*."); ok {
		if base == "" {
			return &filter{}, errEmptyFilter
		}
		pattern = "{" + base + ",**." + base + "}"
	}

	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return &filter{}, err
	}
	return &filter{host: g, path: pathPart}, nil
}
