package coresession

import "testing"

func TestSelectSession_PrefersExistingOrdinaryPage(t *testing.T) {
	pages := []pageInfo{
		{TargetID: "t1", ContextID: "ctx1", Type: "page", URL: "about:blank"},
		{TargetID: "t2", ContextID: "ctx1", Type: "page", URL: "https://example.com/dashboard"},
	}
	sel := selectSession(pages)
	if sel.NeedNewContext {
		t.Fatalf("expected no new context")
	}
	if sel.ExistingPage == nil || sel.ExistingPage.TargetID != "t2" {
		t.Fatalf("expected existing page t2, got %+v", sel.ExistingPage)
	}
}

func TestSelectSession_BlankOnlyPageIsOrdinaryWhenAlone(t *testing.T) {
	pages := []pageInfo{
		{TargetID: "t1", ContextID: "ctx1", Type: "page", URL: "about:blank"},
	}
	sel := selectSession(pages)
	if sel.ExistingPage == nil || sel.ExistingPage.TargetID != "t1" {
		t.Fatalf("expected the lone blank page to be reused, got %+v", sel.ExistingPage)
	}
}

func TestSelectSession_SkipsExtensionAndInternalPages(t *testing.T) {
	pages := []pageInfo{
		{TargetID: "ext", ContextID: "ctx1", Type: "page", URL: "chrome-extension://abc/popup.html"},
		{TargetID: "internal", ContextID: "ctx1", Type: "page", URL: "chrome://settings"},
		{TargetID: "svc", ContextID: "ctx1", Type: "service_worker", URL: "https://example.com/sw.js"},
	}
	sel := selectSession(pages)
	if sel.ExistingPage != nil {
		t.Fatalf("expected no ordinary existing page, got %+v", sel.ExistingPage)
	}
	if sel.NeedNewContext {
		t.Fatalf("a context exists; should open a new page there, not a new context")
	}
	if sel.ContextID != "ctx1" {
		t.Fatalf("expected to target ctx1, got %q", sel.ContextID)
	}
}

func TestSelectSession_PicksFirstContextWithOrdinaryPage(t *testing.T) {
	pages := []pageInfo{
		{TargetID: "t1", ContextID: "ctx1", Type: "page", URL: "chrome://settings"},
		{TargetID: "t2", ContextID: "ctx2", Type: "page", URL: "https://example.com"},
	}
	sel := selectSession(pages)
	if sel.ExistingPage == nil || sel.ContextID != "ctx2" {
		t.Fatalf("expected ctx2 to be picked, got %+v ctx=%s", sel.ExistingPage, sel.ContextID)
	}
}

func TestSelectSession_NoContextsCreatesNewDefault(t *testing.T) {
	sel := selectSession(nil)
	if !sel.NeedNewContext {
		t.Fatalf("expected NeedNewContext when no pages exist at all")
	}
}

func TestSelectSession_MultipleOrdinaryPagesPrefersNonBlank(t *testing.T) {
	pages := []pageInfo{
		{TargetID: "t1", ContextID: "ctx1", Type: "page", URL: "about:blank"},
		{TargetID: "t2", ContextID: "ctx1", Type: "page", URL: "https://example.com/a"},
		{TargetID: "t3", ContextID: "ctx1", Type: "page", URL: "https://example.com/b"},
	}
	sel := selectSession(pages)
	if sel.ExistingPage == nil || sel.ExistingPage.TargetID == "t1" {
		t.Fatalf("expected a non-blank page to be preferred, got %+v", sel.ExistingPage)
	}
}
