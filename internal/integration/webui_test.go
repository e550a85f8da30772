package integration_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

func TestWebUI(t *testing.T) {
	requireLong(t)
	requireChrome(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := newChromedpContext(t)
	defer cancel()

	if err := chromedp.Run(ctx); err != nil {
		t.Fatalf("chromedp failed to start: %v", err)
	}

	var appDisplay string
	var loginDisplay string
	var languageLabel string
	var confirmFile string
	var confirmDiff string
	var noticeText string
	var previewHTML string
	var loginDisplayAfterLogout string
	var alerts []string
	err := chromedp.Run(ctx,
		chromedp.Navigate(server.URL),
		chromedp.Evaluate(`window.__alerts = []; window.alert = function(msg) { window.__alerts.push(String(msg)); };`, nil),
		chromedp.WaitVisible(`#login-form`, chromedp.ByID),
		chromedp.Evaluate(`getComputedStyle(document.getElementById('app-panel')).display`, &appDisplay),
		chromedp.SetValue(`#login-username`, ts.user, chromedp.ByID),
		chromedp.SetValue(`#login-password`, ts.password, chromedp.ByID),
		chromedp.SetValue(`#login-totp`, currentTOTP(ts.totp), chromedp.ByID),
		chromedp.Click(`#login-form button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`#app-panel`, chromedp.ByID),
		chromedp.Evaluate(`getComputedStyle(document.getElementById('login-panel')).display`, &loginDisplay),
		chromedp.WaitVisible(`#hosting-form`, chromedp.ByID),
		chromedp.SetValue(`#hosting-token`, githubToken, chromedp.ByID),
		chromedp.Click(`#hosting-form button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`#workspace-controls`, chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForOptions(ctx, "#repo-select", []string{"demo"}, 5*time.Second)
		}),
		selectOption("#repo-select", "demo"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForOptions(ctx, "#file-select", []string{"README.md", "main.py"}, 5*time.Second)
		}),
		selectOption("#file-select", "main.py"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForValue(ctx, "#editor", "print('hello')", 5*time.Second)
		}),
		chromedp.Text(`#language-label`, &languageLabel, chromedp.ByID),
		chromedp.SetValue(`#prompt-input`, "print from claude", chromedp.ByID),
		chromedp.Click(`#generate-btn`, chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForValue(ctx, "#editor", "from claude", 5*time.Second)
		}),
		chromedp.Click(`#tab-preview`, chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForCondition(ctx, `document.getElementById('preview').innerHTML.includes('<pre')`, 5*time.Second)
		}),
		chromedp.InnerHTML(`#preview`, &previewHTML, chromedp.ByID),
		chromedp.Click(`#tab-editor`, chromedp.ByID),
		chromedp.SetValue(`#commit-message`, "Use claude greeting", chromedp.ByID),
		chromedp.Click(`#save-btn`, chromedp.ByID),
		chromedp.WaitVisible(`#confirm-modal`, chromedp.ByID),
		chromedp.Text(`#confirm-file`, &confirmFile, chromedp.ByID),
		chromedp.Text(`#confirm-diff`, &confirmDiff, chromedp.ByID),
		chromedp.Click(`#confirm-yes`, chromedp.ByID),
		chromedp.WaitVisible(`#notice`, chromedp.ByID),
		chromedp.Text(`#notice`, &noticeText, chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForDisplay(ctx, "#confirm-modal", "none", 5*time.Second)
		}),
		chromedp.Click(`#operator-logout`, chromedp.ByID),
		chromedp.WaitVisible(`#login-form`, chromedp.ByID),
		chromedp.Evaluate(`getComputedStyle(document.getElementById('login-panel')).display`, &loginDisplayAfterLogout),
		chromedp.Evaluate(`window.__alerts`, &alerts),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("chromedp timed out: %v", err)
		}
		t.Fatalf("chromedp failed: %v", err)
	}

	if appDisplay != "none" {
		t.Fatalf("expected app panel hidden before login, got display=%q", appDisplay)
	}
	if loginDisplay != "none" {
		t.Fatalf("expected login panel hidden after login, got display=%q", loginDisplay)
	}
	if !strings.EqualFold(languageLabel, "python") {
		t.Fatalf("unexpected language label: %q", languageLabel)
	}
	if !strings.Contains(previewHTML, "claude") {
		t.Fatalf("expected preview to render buffer, got %s", previewHTML)
	}
	if confirmFile != "demo/main.py" {
		t.Fatalf("unexpected confirm target: %q", confirmFile)
	}
	if !containsAll(confirmDiff, []string{"-print('hello')", "+print('from claude')"}) {
		t.Fatalf("unexpected confirm diff: %s", confirmDiff)
	}
	if !strings.Contains(noticeText, "updated successfully") {
		t.Fatalf("unexpected notice: %q", noticeText)
	}
	if remote, _ := ts.memory.Content("demo", "main.py"); remote != "print('from claude')\n" {
		t.Fatalf("unexpected remote content: %q", remote)
	}
	if loginDisplayAfterLogout == "none" {
		t.Fatalf("expected login panel visible after logout, got display=%q", loginDisplayAfterLogout)
	}
	if len(alerts) > 0 {
		t.Fatalf("unexpected alert(s): %v", alerts)
	}
}

func TestWebUIInvalidLogin(t *testing.T) {
	requireLong(t)
	requireChrome(t)
	ts := newTestServer(t)

	server := httptest.NewServer(ts.httpSrv.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := newChromedpContext(t)
	defer cancel()

	var errorText string
	err := chromedp.Run(ctx,
		chromedp.Navigate(server.URL),
		chromedp.WaitVisible(`#login-form`, chromedp.ByID),
		chromedp.SetValue(`#login-username`, ts.user, chromedp.ByID),
		chromedp.SetValue(`#login-password`, "wrong", chromedp.ByID),
		chromedp.SetValue(`#login-totp`, currentTOTP(ts.totp), chromedp.ByID),
		chromedp.Click(`#login-form button[type="submit"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForCondition(ctx, `document.getElementById('login-error').textContent !== ''`, 5*time.Second)
		}),
		chromedp.Text(`#login-error`, &errorText, chromedp.ByID),
	)
	if err != nil {
		t.Fatalf("chromedp failed: %v", err)
	}
	if !strings.Contains(errorText, "invalid credentials") {
		t.Fatalf("unexpected login error: %q", errorText)
	}
}

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("chrome not available")
}

func newChromedpContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	ctx, timeoutCancel := context.WithTimeout(ctx, 30*time.Second)
	return ctx, func() {
		timeoutCancel()
		cancel()
		allocCancel()
	}
}

// selectOption sets a select's value and fires the change event the UI listens for.
func selectOption(selector, value string) chromedp.Action {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		el.value = %q;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return el.value;
	})()`, selector, value)
	return chromedp.Evaluate(script, nil)
}

func waitForCondition(ctx context.Context, expr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var ok bool
		if err := chromedp.Evaluate(expr, &ok).Do(ctx); err == nil && ok {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	var status string
	_ = chromedp.Evaluate(`(document.getElementById('status')||{}).textContent||''`, &status).Do(ctx)
	return fmt.Errorf("timeout waiting for %s (status=%q)", expr, status)
}

func waitForValue(ctx context.Context, selector, needle string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		var value string
		script := fmt.Sprintf(`document.querySelector(%q).value`, selector)
		if err := chromedp.Evaluate(script, &value).Do(ctx); err == nil {
			last = value
			if strings.Contains(value, needle) {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	var status string
	_ = chromedp.Evaluate(`(document.getElementById('status')||{}).textContent||''`, &status).Do(ctx)
	return fmt.Errorf("timeout waiting for %s to include %q (last=%q status=%q)", selector, needle, last, status)
}

func waitForOptions(ctx context.Context, selector string, expected []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var last []string
	for time.Now().Before(deadline) {
		var values []string
		script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q + ' option')).map(el => el.value)`, selector)
		if err := chromedp.Evaluate(script, &values).Do(ctx); err == nil {
			last = values
			if containsAllStrings(values, expected) {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s options %v (last=%v)", selector, expected, last)
}

func waitForDisplay(ctx context.Context, selector string, expected string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		var display string
		script := fmt.Sprintf(`getComputedStyle(document.querySelector(%q)).display`, selector)
		if err := chromedp.Evaluate(script, &display).Do(ctx); err == nil {
			last = display
			if display == expected {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s display=%q (last=%q)", selector, expected, last)
}

func containsAllStrings(values []string, expected []string) bool {
	if len(expected) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	for _, value := range expected {
		if _, ok := set[value]; !ok {
			return false
		}
	}
	return true
}
