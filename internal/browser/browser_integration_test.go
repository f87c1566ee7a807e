//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/browser"
)

func TestChromeNavigateAndScreenshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body><h1>Example Bistro</h1></body></html>")
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chrome, err := browser.Launch(ctx, browser.Config{
		Headless:   true,
		NavTimeout: 10 * time.Second,
		SettleWait: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer chrome.Close()

	page, err := chrome.NewPage(ctx)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(ctx, ts.URL))

	html, err := page.Content(ctx)
	require.NoError(t, err)
	require.Contains(t, html, "Example Bistro")

	shot, err := page.Screenshot(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, shot)
}
