package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps config resource names to Rod protocol resource types.
// Scripts and XHR are never blockable: airline result pages render from them.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
}

// trackerDomains are analytics and marketing hosts that airline booking
// pages load on every step. Blocking them shortens page settle time.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"facebook.net":          {},
	"connect.facebook.net":  {},
	"criteo.com":            {},
	"criteo.net":            {},
	"hotjar.com":            {},
	"adobedtm.com":          {},
	"omtrdc.net":            {},
	"demdex.net":            {},
	"everesttech.net":       {},
	"quantummetric.com":     {},
	"contentsquare.net":     {},
	"clarity.ms":            {},
	"tiqcdn.com":            {},
	"line-scdn.net":         {},
	"analytics.tiktok.com":  {},
}

// isTrackerDomain checks a hostname and each of its parent domains.
func isTrackerDomain(host string) bool {
	host = strings.ToLower(host)
	for {
		if _, ok := trackerDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

// setupHijack installs a request interceptor that fails requests for the
// blocked resource types and, optionally, for tracker domains.
//
// Returns the running HijackRouter so the page can stop it on close.
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, blockedTypes []string, blockTrackers bool) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 && !blockTrackers {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockTrackers {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil && isTrackerDomain(u.Hostname()) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks until router.Stop().
	go router.Run()

	return router
}
