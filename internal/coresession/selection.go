// Package coresession implements the Session Broker: given a live debug
// endpoint, it returns a SessionRef bound to an existing ordinary page
// wherever one exists, because reuse is what preserves the logged-in
// state that lives in a context's storage partition. Creating a fresh
// context would be a new session and defeat the point of the whole
// supervisor.
package coresession

// pageInfo is the minimal shape selection logic needs from a live CDP
// target, kept independent of the rod types so the selection rules can
// be unit tested without a real browser.
type pageInfo struct {
	TargetID  string
	ContextID string
	Type      string
	URL       string
}

// extensionSchemes and internalSchemes mark pages that never count as
// "ordinary" regardless of context population.
var extensionSchemes = []string{"chrome-extension://"}
var internalSchemes = []string{"chrome://", "devtools://", "chrome-error://", "chrome-untrusted://"}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

// isCandidateOrdinary reports whether p could ever count as an ordinary
// page, ignoring the "about:blank with siblings" rule, which needs the
// rest of its context to evaluate.
func isCandidateOrdinary(p pageInfo) bool {
	if p.Type != "page" {
		return false
	}
	if hasPrefixAny(p.URL, extensionSchemes) || hasPrefixAny(p.URL, internalSchemes) {
		return false
	}
	return true
}

// contextGroup is one browsing context and its pages, in enumeration order.
type contextGroup struct {
	ContextID string
	Pages     []pageInfo
}

// groupByContext preserves first-seen context order, matching "choose
// the first context whose pages include an ordinary page."
func groupByContext(pages []pageInfo) []contextGroup {
	var order []string
	byID := map[string]*contextGroup{}
	for _, p := range pages {
		g, ok := byID[p.ContextID]
		if !ok {
			g = &contextGroup{ContextID: p.ContextID}
			byID[p.ContextID] = g
			order = append(order, p.ContextID)
		}
		g.Pages = append(g.Pages, p)
	}
	groups := make([]contextGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}
	return groups
}

// ordinaryPages returns the pages within a context that qualify as
// ordinary: not an extension or internal page, and not the about:blank
// startup tab unless no other ordinary page in the context has a URL
// other than about:blank.
func ordinaryPages(g contextGroup) []pageInfo {
	var candidates []pageInfo
	for _, p := range g.Pages {
		if isCandidateOrdinary(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) <= 1 {
		return candidates
	}
	var nonBlank []pageInfo
	for _, p := range candidates {
		if p.URL != "about:blank" {
			nonBlank = append(nonBlank, p)
		}
	}
	if len(nonBlank) > 0 {
		return nonBlank
	}
	return candidates
}

// selection is the outcome of running the selection rules against a
// snapshot of live pages.
type selection struct {
	ContextID      string
	ExistingPage   *pageInfo // nil if a new page must be opened
	NeedNewContext bool
}

// selectSession implements the three selection rules in priority order:
// prefer an existing ordinary page in the first context that has one;
// otherwise open a new page in that context; otherwise create a new
// default context entirely.
func selectSession(pages []pageInfo) selection {
	groups := groupByContext(pages)
	for _, g := range groups {
		ordinary := ordinaryPages(g)
		if len(ordinary) == 0 {
			continue
		}
		page := ordinary[0]
		return selection{ContextID: g.ContextID, ExistingPage: &page}
	}

	// No context has an ordinary page. If at least one context exists,
	// open a new blank page inside the first one rather than spinning up
	// a whole new context.
	if len(groups) > 0 {
		return selection{ContextID: groups[0].ContextID}
	}

	// No context exists at all (unusual — the browser starts with one).
	return selection{NeedNewContext: true}
}
