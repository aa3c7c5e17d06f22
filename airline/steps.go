package airline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/scraper"
)

// stepTimeout is the per-step deadline. A step that outlives it is a
// navigation timeout even if the task still has budget left.
const stepTimeout = 15 * time.Second

// pollInterval is how often waitAny re-checks the page.
const pollInterval = 250 * time.Millisecond

type stepKind string

const (
	stepNavigate      stepKind = "navigate"
	stepFill          stepKind = "fill"
	stepClick         stepKind = "click"
	stepClickIfExists stepKind = "click_if_present"
	stepSelect        stepKind = "select"
	stepSetValue      stepKind = "set_value"
	stepWait          stepKind = "wait"
)

// step is one scripted interaction with an airline page. Its String form
// never includes value, so typed credentials stay out of errors and logs.
type step struct {
	kind     stepKind
	selector string
	value    string
}

func navigate(url string) step { return step{kind: stepNavigate, value: url} }

func fill(selector, value string) step { return step{kind: stepFill, selector: selector, value: value} }

func click(selector string) step { return step{kind: stepClick, selector: selector} }

func clickIfPresent(selector string) step { return step{kind: stepClickIfExists, selector: selector} }

func choose(selector, option string) step {
	return step{kind: stepSelect, selector: selector, value: option}
}

func setValue(selector, value string) step {
	return step{kind: stepSetValue, selector: selector, value: value}
}

func waitFor(selector string) step { return step{kind: stepWait, selector: selector} }

func (s step) String() string {
	switch s.kind {
	case stepNavigate:
		return fmt.Sprintf("%s %s", s.kind, s.value)
	default:
		return fmt.Sprintf("%s %q", s.kind, s.selector)
	}
}

// runSteps executes the ordered steps on the page. A failing step is
// reported with its position and the number completed; the error keeps the
// code of the underlying page failure.
func runSteps(ctx context.Context, page scraper.Page, airline models.AirlineCode, steps []step) error {
	for i, st := range steps {
		if err := runStep(ctx, page, st); err != nil {
			return models.NewAirlineError(airline, models.CodeOf(err),
				fmt.Sprintf("step %d (%s) failed after %d completed", i, st, i), err)
		}
	}
	return nil
}

// runStep dispatches a single step with its own timeout.
func runStep(ctx context.Context, page scraper.Page, st step) error {
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	switch st.kind {
	case stepNavigate:
		return page.Navigate(stepCtx, st.value)
	case stepFill:
		return page.Fill(stepCtx, st.selector, st.value)
	case stepClick:
		return page.Click(stepCtx, st.selector)
	case stepClickIfExists:
		has, err := page.Has(stepCtx, st.selector)
		if err != nil || !has {
			return err
		}
		return page.Click(stepCtx, st.selector)
	case stepSelect:
		return page.Select(stepCtx, st.selector, st.value)
	case stepSetValue:
		res, err := page.Eval(stepCtx, setValueJS(st.selector, st.value))
		if err != nil {
			return err
		}
		if res != "ok" {
			return models.NewFareError(models.ErrCodeLayoutChanged,
				fmt.Sprintf("element %q not found", st.selector), nil)
		}
		return nil
	case stepWait:
		return page.WaitVisible(stepCtx, st.selector)
	default:
		return models.NewFareError(models.ErrCodeInternal, fmt.Sprintf("unknown step kind: %s", st.kind), nil)
	}
}

// setValueJS assigns an input's value directly and fires the events that
// date pickers listen for.
func setValueJS(selector, value string) string {
	return fmt.Sprintf(`() => {
	const el = document.querySelector(%s);
	if (!el) return "missing";
	el.value = %s;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return "ok";
}`, strconv.Quote(selector), strconv.Quote(value))
}

// waitAny polls until one of the selectors matches and returns its index.
// It only gives up when ctx is done, which is a navigation timeout.
func waitAny(ctx context.Context, page scraper.Page, airline models.AirlineCode, selectors ...string) (int, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for i, sel := range selectors {
			has, err := page.Has(ctx, sel)
			if err != nil {
				return -1, models.NewAirlineError(airline, models.CodeOf(err),
					fmt.Sprintf("checking %q", sel), err)
			}
			if has {
				return i, nil
			}
		}
		select {
		case <-ctx.Done():
			return -1, models.NewAirlineError(airline, models.ErrCodeNavigationTimeout,
				fmt.Sprintf("none of %q appeared", selectors), ctx.Err())
		case <-ticker.C:
		}
	}
}
