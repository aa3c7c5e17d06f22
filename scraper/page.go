package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/farescout/models"
)

// Page is the subset of browser automation an airline adapter drives.
// Every method honors ctx: when it is done the call returns promptly with a
// NAVIGATION_TIMEOUT FareError.
type Page interface {
	// Navigate loads url and waits for the DOM to settle.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until an element matching selector is visible.
	WaitVisible(ctx context.Context, selector string) error

	// Has reports whether selector currently matches, without waiting.
	Has(ctx context.Context, selector string) (bool, error)

	// Fill replaces the value of an input. A missing element is LAYOUT_CHANGED.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks an element. A missing element is LAYOUT_CHANGED.
	Click(ctx context.Context, selector string) error

	// Select chooses the option whose visible text matches value.
	Select(ctx context.Context, selector, value string) error

	// Eval runs a JS function expression and returns its result as a string.
	Eval(ctx context.Context, js string) (string, error)

	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
}

// elementTimeout is how long an interaction waits for its element before
// concluding the page layout no longer matches.
const elementTimeout = 5 * time.Second

// RodPage implements Page on a go-rod tab.
type RodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pc := p.page.Context(ctx)
	if err := pc.Navigate(url); err != nil {
		return categorizeError(ctx, err, "navigation to "+url+" failed")
	}
	if err := pc.WaitLoad(); err != nil {
		return categorizeError(ctx, err, "page load did not finish")
	}
	if err := pc.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

func (p *RodPage) WaitVisible(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return categorizeError(ctx, err, fmt.Sprintf("waiting for %q", selector))
	}
	if err := el.WaitVisible(); err != nil {
		return categorizeError(ctx, err, fmt.Sprintf("waiting for %q to be visible", selector))
	}
	return nil
}

func (p *RodPage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return false, categorizeError(ctx, err, fmt.Sprintf("checking %q", selector))
	}
	return has, nil
}

func (p *RodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return interactionError(ctx, err, fmt.Sprintf("clearing %q", selector))
	}
	if err := el.Input(value); err != nil {
		return interactionError(ctx, err, fmt.Sprintf("typing into %q", selector))
	}
	return nil
}

func (p *RodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return interactionError(ctx, err, fmt.Sprintf("clicking %q", selector))
	}
	return nil
}

func (p *RodPage) Select(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return models.NewFareError(models.ErrCodeLayoutChanged,
			fmt.Sprintf("option %q not selectable in %q", value, selector), err)
	}
	return nil
}

func (p *RodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", categorizeError(ctx, err, "script evaluation failed")
	}
	if res.Value.Nil() {
		return "", nil
	}
	if s, ok := res.Value.Val().(string); ok {
		return s, nil
	}
	return res.Value.JSON("", ""), nil
}

func (p *RodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeError(ctx, err, "failed to extract page HTML")
	}
	return html, nil
}

// element finds selector, giving up after elementTimeout. Running out of
// that budget while ctx is still live means the element is not on the page.
func (p *RodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Timeout(elementTimeout).Element(selector)
	if err == nil {
		return el, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, models.NewFareError(models.ErrCodeLayoutChanged,
			fmt.Sprintf("element %q not found", selector), err)
	}
	return nil, categorizeError(ctx, err, fmt.Sprintf("looking up %q", selector))
}

// reset blanks the tab so the next holder starts from a clean document.
// It uses its own short deadline so cleanup works after the task's context
// has expired. A failure means the tab is no longer usable.
func (p *RodPage) reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pc := p.page.Context(ctx)
	if err := pc.Navigate("about:blank"); err != nil {
		return err
	}
	return proto.NetworkClearBrowserCookies{}.Call(pc)
}

func (p *RodPage) close() {
	if p.router != nil {
		_ = p.router.Stop()
	}
	_ = p.page.Close()
}

// categorizeError wraps raw rod errors into typed FareErrors. A context
// timeout is a navigation timeout, a rejected navigation is a navigation
// failure, and any other CDP error means the tab itself is in trouble.
func categorizeError(ctx context.Context, err error, msg string) *models.FareError {
	var fe *models.FareError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewFareError(models.ErrCodeNavigationTimeout, msg, err)
	default:
		var navErr *rod.NavigationError
		if errors.As(err, &navErr) {
			return models.NewFareError(models.ErrCodeNavigation, msg, err)
		}
		return models.NewFareError(models.ErrCodeBrowserCrash, msg, err)
	}
}

// interactionError classifies a failed click or keystroke on an element that
// was found: the element exists but is covered, disabled or detached.
func interactionError(ctx context.Context, err error, msg string) *models.FareError {
	if ctx.Err() != nil {
		return models.NewFareError(models.ErrCodeNavigationTimeout, msg, err)
	}
	return models.NewFareError(models.ErrCodeLayoutChanged, msg, err)
}
