// Package opener correlates newly created tabs with the tab whose link
// activation caused them.
package opener

import "github.com/lotas/tabgruppen/internal/applog"

type association struct {
	url   string
	tabID int
	seq   uint64
}

// Tracker holds URL -> source tab associations recorded from link
// activation gestures. It is owned by a single goroutine and is not safe
// for concurrent use.
type Tracker struct {
	byURL map[string]*association
	seq   uint64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byURL: make(map[string]*association)}
}

// Record stores url -> sourceTabID. A later gesture for the same URL
// replaces the earlier one.
func (t *Tracker) Record(url string, sourceTabID int) {
	if url == "" || sourceTabID <= 0 {
		return
	}
	t.seq++
	t.byURL[url] = &association{url: url, tabID: sourceTabID, seq: t.seq}
}

// Correlate finds the opener for a new tab and consumes the association.
// An exact URL hit wins; otherwise the oldest association recorded for
// openerTabID is used, because redirects can make the pending URL differ
// from the one seen at gesture time. That fallback can pick an unrelated
// gesture from the same opener when several are pending.
func (t *Tracker) Correlate(url string, openerTabID int) (int, bool) {
	if a, ok := t.byURL[url]; ok && url != "" {
		delete(t.byURL, url)
		return a.tabID, true
	}
	if openerTabID <= 0 {
		return 0, false
	}
	var found *association
	for _, a := range t.byURL {
		if a.tabID == openerTabID && (found == nil || a.seq < found.seq) {
			found = a
		}
	}
	if found == nil {
		return 0, false
	}
	delete(t.byURL, found.url)
	applog.Info("opener.fallback", "url", url, "recorded", found.url, "opener", openerTabID)
	return found.tabID, true
}

// Len returns the number of pending associations.
func (t *Tracker) Len() int {
	return len(t.byURL)
}

// Sweep evicts every association. Associations left behind are gestures
// that never produced a tab.
func (t *Tracker) Sweep() int {
	n := len(t.byURL)
	if n > 0 {
		t.byURL = make(map[string]*association)
	}
	return n
}
