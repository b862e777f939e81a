// Package browser drives a headless Chrome session for job boards that
// gate their listings behind scripted pages. Site scrapers describe what
// they need as a flat list of actions; the session interprets the list and
// returns the HTML captured by the extract step.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
)

const pageTimeout = 90 * time.Second

// Kind tags an Action variant.
type Kind int

const (
	KindNavigate Kind = iota
	KindClick
	KindFill
	KindDismiss
	KindExtract
	KindSleep
)

// Action is one step of a scripted page visit. Only the fields the Kind
// uses are set; the constructors below are the intended way to build one.
type Action struct {
	Kind     Kind
	URL      string
	Selector string
	Value    string
	Wait     time.Duration
}

// Navigate loads a URL.
func Navigate(url string) Action { return Action{Kind: KindNavigate, URL: url} }

// Click clicks the first node matching the selector and fails if none exists.
func Click(selector string) Action { return Action{Kind: KindClick, Selector: selector} }

// Fill types a value into the first node matching the selector.
func Fill(selector, value string) Action {
	return Action{Kind: KindFill, Selector: selector, Value: value}
}

// Dismiss clicks the selector when present and is a no-op otherwise. Cookie
// banners come and go per region, so scripts can't rely on them existing.
func Dismiss(selector string) Action { return Action{Kind: KindDismiss, Selector: selector} }

// Extract captures the outer HTML of the first node matching the selector.
func Extract(selector string) Action { return Action{Kind: KindExtract, Selector: selector} }

// Sleep waits out scripts that render listings after load.
func Sleep(d time.Duration) Action { return Action{Kind: KindSleep, Wait: d} }

type Session struct {
	allocCtx context.Context
	logger   *slog.Logger
}

// NewSession starts a shared Chrome allocator. The returned closer shuts the
// browser down; every Run borrows a fresh tab from it.
func NewSession(l *slog.Logger) (*Session, func(), error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if bin := findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &Session{allocCtx: silentCtx, logger: l}
	return s, func() {
		cancelSilent()
		cancelAlloc()
	}, nil
}

// Run interprets the script in a fresh tab and returns the HTML captured by
// its extract action. A script without an extract action returns an error
// before touching the browser.
func (s *Session) Run(ctx context.Context, script []Action) (string, error) {
	var html string
	steps, err := compile(script, &html)
	if err != nil {
		return "", err
	}

	tabCtx, cancel := chromedp.NewContext(s.allocCtx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageTimeout)
	defer cancelTimeout()

	go func() {
		<-ctx.Done()
		cancel()
	}()

	if err := chromedp.Run(tabCtx, steps...); err != nil {
		return "", fmt.Errorf("failed to run browser script in browser.Run: %w", err)
	}
	return html, nil
}

// compile lowers the action list into chromedp steps. The extract target is
// written into html.
func compile(script []Action, html *string) ([]chromedp.Action, error) {
	var steps []chromedp.Action
	var extracts int

	for i, a := range script {
		switch a.Kind {
		case KindNavigate:
			steps = append(steps, chromedp.Navigate(a.URL))
		case KindClick:
			steps = append(steps, chromedp.Click(a.Selector, chromedp.ByQuery))
		case KindFill:
			steps = append(steps, chromedp.SendKeys(a.Selector, a.Value, chromedp.ByQuery))
		case KindDismiss:
			js := fmt.Sprintf(`(function() { var el = document.querySelector(%s); if (el) el.click(); return true; })()`,
				strconv.Quote(a.Selector))
			steps = append(steps, chromedp.Evaluate(js, nil))
		case KindExtract:
			extracts++
			steps = append(steps, chromedp.OuterHTML(a.Selector, html, chromedp.ByQuery))
		case KindSleep:
			steps = append(steps, chromedp.Sleep(a.Wait))
		default:
			return nil, fmt.Errorf("unknown action kind %d at step %d in browser.compile", a.Kind, i)
		}
	}
	if extracts != 1 {
		return nil, fmt.Errorf("browser script needs exactly one extract action, got %d in browser.compile", extracts)
	}
	return steps, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	return ""
}
