package calendar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"estancias/internal/app/policies"
)

// Client fetches and parses external iCal feeds. Feeds are untrusted input:
// the client enforces a host allowlist, a request timeout and a maximum body
// size, and surfaces every violation as an error so the availability oracle
// fails closed.
type Client struct {
	http         *http.Client
	maxBytes     int64
	allowedHosts map[string]struct{}
	logger       *slog.Logger
}

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowedHosts restricts feed URLs to the listed hosts. Empty means any
	// host is accepted.
	AllowedHosts []string
	Logger       *slog.Logger
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var allowed map[string]struct{}
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			allowed[strings.ToLower(h)] = struct{}{}
		}
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		maxBytes:     maxBytes,
		allowedHosts: allowed,
		logger:       logger,
	}
}

func (c *Client) BlockedRanges(ctx context.Context, feedURL string) ([]policies.BlockedRange, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("calendar: invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("calendar: unsupported scheme %q", u.Scheme)
	}
	if c.allowedHosts != nil {
		if _, ok := c.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
			return nil, fmt.Errorf("calendar: host %q not allowed", u.Hostname())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: feed returned %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, c.maxBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("calendar: feed exceeds %d bytes", c.maxBytes)
	}

	cal, err := ics.ParseCalendar(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("calendar: parse feed: %w", err)
	}

	var out []policies.BlockedRange
	for _, ev := range cal.Events() {
		start, end, err := eventWindow(ev)
		if err != nil {
			// One malformed event poisons the whole feed: partial data could
			// grant availability over a genuinely blocked window.
			return nil, fmt.Errorf("calendar: event %s: %w", ev.Id(), err)
		}
		if !end.After(start) {
			continue
		}
		out = append(out, policies.BlockedRange{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}

func eventWindow(ev *ics.VEvent) (time.Time, time.Time, error) {
	start, err := ev.GetStartAt()
	if err != nil {
		if start, err = ev.GetAllDayStartAt(); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("no usable start: %w", err)
		}
	}
	end, err := ev.GetEndAt()
	if err != nil {
		if end, err = ev.GetAllDayEndAt(); err != nil {
			// Feeds commonly omit DTEND for single-day blocks.
			end = start.AddDate(0, 0, 1)
		}
	}
	return start, end, nil
}
