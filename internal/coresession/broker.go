package coresession

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/browserkeeper/browserkeeper/internal/coreerr"
	"github.com/browserkeeper/browserkeeper/internal/corelog"
)

// SessionRef is the opaque handle the driver consumes: a browsing
// context and a page within it, already connected. It remains valid
// until the underlying Endpoint is lost; the broker does not track it
// further beyond this struct.
type SessionRef struct {
	ID         string
	ControlURL string
	ContextID  string
	TargetID   string
	URL        string

	Browser *rod.Browser
	Page    *rod.Page
}

// Close releases the rod.Browser connection (not the OS process — the
// Supervisor owns that lifetime, not the session).
func (s SessionRef) Close() error {
	if s.Browser == nil {
		return nil
	}
	return s.Browser.Close()
}

// connector is the minimal surface Broker needs to obtain a connected
// *rod.Browser, injectable so tests never dial a real endpoint.
type connector func(controlURL string) (*rod.Browser, error)

// Broker selects or creates a reusable SessionRef on a live endpoint.
type Broker struct {
	Log     corelog.Logger
	connect connector
}

// New returns a Broker that connects to endpoints with a real rod.Browser.
func New(log corelog.Logger) *Broker {
	if log == nil {
		log = corelog.Nop
	}
	return &Broker{Log: log, connect: connectReal}
}

func connectReal(controlURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// Acquire connects to controlURL and returns a SessionRef using the
// session-selection rules: reuse an existing ordinary page where
// possible, otherwise open one, otherwise create a new default context.
func (b *Broker) Acquire(controlURL string) (SessionRef, error) {
	browser, err := b.connect(controlURL)
	if err != nil {
		return SessionRef{}, coreerr.Wrap(coreerr.NoUsableContext, "session.acquire", "failed to connect to endpoint", err).
			WithDiagnostic("control_url", controlURL)
	}

	pages, err := browser.Pages()
	if err != nil {
		return SessionRef{}, coreerr.Wrap(coreerr.NoUsableContext, "session.acquire", "failed to enumerate pages", err)
	}

	infos, byTarget := snapshot(pages)
	sel := selectSession(infos)

	var page *rod.Page
	switch {
	case sel.NeedNewContext:
		// No BrowserContextID: the target opens in the browser's default
		// (profile-backed) context.
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return SessionRef{}, coreerr.Wrap(coreerr.NoUsableContext, "session.acquire", "failed to open page in default context", err)
		}
	case sel.ExistingPage != nil:
		page = byTarget[sel.ExistingPage.TargetID]
		if page == nil {
			return SessionRef{}, coreerr.New(coreerr.NoUsableContext, "session.acquire", "selected page vanished before attach")
		}
	default:
		var err error
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank", BrowserContextID: proto.BrowserBrowserContextID(sel.ContextID)})
		if err != nil {
			return SessionRef{}, coreerr.Wrap(coreerr.NoUsableContext, "session.acquire", "failed to open new page in existing context", err)
		}
	}

	info, _ := page.Info()
	ref := SessionRef{
		ID:         uuid.NewString(),
		ControlURL: controlURL,
		ContextID:  sel.ContextID,
		Browser:    browser,
		Page:       page,
	}
	if info != nil {
		ref.TargetID = string(info.TargetID)
		ref.URL = info.URL
		if info.BrowserContextID != "" {
			ref.ContextID = string(info.BrowserContextID)
		}
	}
	return ref, nil
}

// snapshot converts live rod.Pages into the pure pageInfo shape
// selection logic operates on, and keeps a TargetID->*rod.Page index so
// the winning candidate can be attached to its real page afterward.
func snapshot(pages rod.Pages) ([]pageInfo, map[string]*rod.Page) {
	infos := make([]pageInfo, 0, len(pages))
	byTarget := make(map[string]*rod.Page, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info == nil {
			continue
		}
		id := string(info.TargetID)
		infos = append(infos, pageInfo{
			TargetID:  id,
			ContextID: string(info.BrowserContextID),
			Type:      string(info.Type),
			URL:       info.URL,
		})
		byTarget[id] = p
	}
	return infos, byTarget
}
