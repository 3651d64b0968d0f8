package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Capture is everything recorded while a page loads. It is stored as the
// crawldata artifact and analysed later without a browser.
type Capture struct {
	SiteURL         string            `json:"site_url"`
	FinalURL        string            `json:"final_url"`
	Error           string            `json:"error,omitempty"`
	Requests        []Request         `json:"requests"`
	ResponseHeaders map[string]string `json:"response_headers"`
	Cookies         []Cookie          `json:"cookies"`
	CapturedAt      time.Time         `json:"captured_at"`
	Screenshot      []byte            `json:"-"`
}

type Request struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	ResourceType string `json:"resource_type"`
	Referrer     string `json:"referrer,omitempty"`
	Status       int    `json:"status,omitempty"`
}

// Cookie mirrors a browser cookie. Expires is a unix timestamp, -1 for
// session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
}

// Crawler loads one page and reports what happened. Navigation failures are
// reported in Capture.Error; a returned error means the browser itself failed.
type Crawler interface {
	Crawl(ctx context.Context, siteURL, userAgent string) (*Capture, error)
	Close() error
}

// PlaywrightCrawler drives a shared headless Chromium. Each crawl gets its
// own browser context so cookies never leak between scans.
type PlaywrightCrawler struct {
	cfg     models.BrowserSuiteConfig
	logger  *logrus.Logger
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPlaywrightCrawler(cfg models.BrowserSuiteConfig, logger *logrus.Logger) *PlaywrightCrawler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.SettleTime < 0 {
		cfg.SettleTime = 0
	}
	return &PlaywrightCrawler{cfg: cfg, logger: logger}
}

func (c *PlaywrightCrawler) start() (playwright.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil && c.browser.IsConnected() {
		return c.browser, nil
	}
	if c.cfg.InstallBrowsers {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			c.logger.WithError(err).Warn("Playwright browser install failed (continuing if already installed)")
		}
	}
	if c.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start Playwright: %w", err)
		}
		c.pw = pw
	}
	browser, err := c.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(c.cfg.Headless),
		Args: []string{
			"--disable-setuid-sandbox",
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--no-first-run",
			"--no-zygote",
			"--disable-gpu",
			"--window-size=1920,1080",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	c.browser = browser
	c.logger.Info("Chromium launched for browser suite")
	return browser, nil
}

func (c *PlaywrightCrawler) Crawl(ctx context.Context, siteURL, userAgent string) (*Capture, error) {
	browser, err := c.start()
	if err != nil {
		return nil, err
	}

	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: 1920, Height: 1080},
		IgnoreHttpsErrors: playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	}
	if userAgent != "" {
		opts.UserAgent = playwright.String(userAgent)
	}
	bctx, err := browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer bctx.Close()
	stop := context.AfterFunc(ctx, func() { _ = bctx.Close() })
	defer stop()

	timeout := float64(c.cfg.PageTimeout.Milliseconds())
	bctx.SetDefaultTimeout(timeout)
	bctx.SetDefaultNavigationTimeout(timeout)

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	capture := &Capture{SiteURL: siteURL, ResponseHeaders: map[string]string{}}
	var mu sync.Mutex
	index := make(map[playwright.Request]int)
	page.OnRequest(func(r playwright.Request) {
		referrer, _ := r.HeaderValue("referer")
		mu.Lock()
		defer mu.Unlock()
		index[r] = len(capture.Requests)
		capture.Requests = append(capture.Requests, Request{
			URL:          r.URL(),
			Method:       r.Method(),
			ResourceType: r.ResourceType(),
			Referrer:     referrer,
		})
	})
	page.OnResponse(func(r playwright.Response) {
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[r.Request()]; ok {
			capture.Requests[i].Status = r.Status()
		}
	})

	resp, err := page.Goto(siteURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(timeout),
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		capture.Error = err.Error()
	}
	if c.cfg.SettleTime > 0 && err == nil {
		page.WaitForTimeout(float64(c.cfg.SettleTime.Milliseconds()))
	}
	if resp != nil {
		if headers, herr := resp.AllHeaders(); herr == nil {
			for k, v := range headers {
				capture.ResponseHeaders[strings.ToLower(k)] = v
			}
		}
	}
	capture.FinalURL = page.URL()

	cookies, err := bctx.Cookies()
	if err != nil {
		c.logger.WithError(err).Warn("Reading cookies failed")
	}
	for _, ck := range cookies {
		capture.Cookies = append(capture.Cookies, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HTTPOnly: ck.HttpOnly,
		})
	}
	capture.CapturedAt = time.Now().UTC()

	if capture.Error == "" {
		shot, err := page.Screenshot(playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng})
		if err != nil {
			c.logger.WithError(err).Debug("Screenshot failed")
		} else {
			capture.Screenshot = shot
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if capture.Requests == nil {
		capture.Requests = []Request{}
	}
	if capture.Cookies == nil {
		capture.Cookies = []Cookie{}
	}
	return capture, nil
}

func (c *PlaywrightCrawler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			return err
		}
		c.browser = nil
	}
	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			return err
		}
		c.pw = nil
	}
	return nil
}
