package snap

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"dragcal/internal/geom"
	applog "dragcal/internal/log"
)

// Default parameters for the headless page the hit-tests run against.
// The viewport should match the layout used by the grid page.
const (
	DefaultViewportWidth  = 984
	DefaultViewportHeight = 1304
	DefaultHitTimeout     = 2 * time.Second
)

// DOMOptions configures a DOMResolver.
type DOMOptions struct {
	// URL of the page carrying the drop-zone markup, e.g.
	// "http://127.0.0.1:8080/".
	URL string

	// Width and Height are the emulated viewport dimensions in pixels.
	// If zero, DefaultViewportWidth / DefaultViewportHeight are used.
	Width  int
	Height int

	// HitTimeout bounds a single hit-test evaluation. If zero,
	// DefaultHitTimeout is used.
	HitTimeout time.Duration
}

// DOMResolver hit-tests against a live page in a headless Chromium
// instance. Each Resolve call evaluates elementFromPoint at the given
// coordinate and walks to the nearest ancestor carrying the drop-zone
// attribute. The page is navigated once at construction; evaluation
// failures degrade to "no snap" rather than surfacing as errors, so a
// wedged browser never breaks an in-progress drag.
type DOMResolver struct {
	ctx        context.Context
	cancel     context.CancelFunc
	hitTimeout time.Duration
}

// NewDOMResolver launches (or attaches to) headless Chromium via
// chromedp, navigates to opts.URL, and waits for the grid page to signal
// readiness through data-ready="true" on its root element.
func NewDOMResolver(parentCtx context.Context, opts DOMOptions) (*DOMResolver, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("snap: URL is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultViewportWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultViewportHeight
	}
	if opts.HitTimeout <= 0 {
		opts.HitTimeout = DefaultHitTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)

	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		cancel()
		return nil, fmt.Errorf("snap: page load failed: %w", err)
	}

	return &DOMResolver{
		ctx:        ctx,
		cancel:     cancel,
		hitTimeout: opts.HitTimeout,
	}, nil
}

// Close tears down the browser context.
func (r *DOMResolver) Close() {
	r.cancel()
}

// Resolve implements Resolver via document.elementFromPoint plus a
// closest() walk for the drop-zone attribute.
func (r *DOMResolver) Resolve(p geom.Point) (Date, bool) {
	expr := fmt.Sprintf(
		`(() => {
			const el = document.elementFromPoint(%g, %g);
			if (!el) return "";
			const zone = el.closest("[%s]");
			return zone ? zone.getAttribute(%q) : "";
		})()`,
		p.X, p.Y, Attr, Attr,
	)

	ctx, cancel := context.WithTimeout(r.ctx, r.hitTimeout)
	defer cancel()

	var encoded string
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &encoded)); err != nil {
		applog.Error("snap: hit-test evaluation failed", err, "x", p.X, "y", p.Y)
		return Date{}, false
	}
	if encoded == "" {
		return Date{}, false
	}

	d, err := ParseDate(encoded)
	if err != nil {
		// Malformed marker value counts as no snap target.
		applog.Debug("snap: ignoring malformed drop-zone date", "value", encoded)
		return Date{}, false
	}
	return d, true
}
