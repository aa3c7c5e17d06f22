package scraper

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/engine"
	"github.com/use-agent/farescout/models"
	"github.com/ysmood/gson"
)

// Browser owns the headless Chromium process and opens the tabs the page
// pool hands to airline adapters. It is safe for concurrent use.
type Browser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
}

// Launch starts a headless browser with the stealth launch flags.
func Launch(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("lang"), cfg.Locale)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFareError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &Browser{browser: browser, cfg: cfg}, nil
}

// NewPool builds the fixed-size page pool backed by this browser.
func (b *Browser) NewPool(cfg engine.PoolConfig) *engine.Pool[Page] {
	pool := engine.NewPool[Page](cfg, b.OpenPage, b.ClosePage, b.Recycle)
	slog.Info("page pool created", "size", pool.Size(), "acquireTimeout", cfg.AcquireTimeout)
	return pool
}

// OpenPage creates a tab prepared for airline sites: stealth script and
// locale headers installed and heavy resources blocked, all before the first
// navigation so they apply to it.
func (b *Browser) OpenPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeBrowserCrash, "failed to create page", err)
	}

	if b.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	if b.cfg.Locale != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{"Accept-Language": gson.New(b.cfg.Locale + ",en;q=0.8")},
		}.Call(page)
	}

	_ = proto.EmulationSetTimezoneOverride{TimezoneID: b.cfg.Timezone}.Call(page)

	rp := &RodPage{page: page.Context(context.Background())}
	rp.router = setupHijack(page, b.cfg.BlockedResourceTypes, true)
	return rp, nil
}

// ClosePage destroys a tab. It tolerates tabs whose renderer already died.
func (b *Browser) ClosePage(p Page) {
	if rp, ok := p.(*RodPage); ok {
		rp.close()
	}
}

// Recycle blanks a released tab and reports whether it is still usable.
// The pool discards tabs for which it returns false.
func (b *Browser) Recycle(p Page) bool {
	rp, ok := p.(*RodPage)
	if !ok {
		return false
	}
	if err := rp.reset(); err != nil {
		slog.Warn("cleanup: failed to reset page, discarding", "error", err)
		return false
	}
	return true
}

// Close kills the browser process. Close the page pool first.
func (b *Browser) Close() {
	slog.Info("browser shutting down")
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}
