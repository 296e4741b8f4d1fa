// Package webhooks notifies subscribers when an import run completes.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 4
)

// Payload is the body posted to every target after an import run.
type Payload struct {
	Event         string   `json:"event"`
	ImportLogID   string   `json:"import_log_id"`
	ActivityID    string   `json:"activity_id"`
	Status        string   `json:"status"`
	FieldsUpdated []string `json:"fields_updated"`
	HasWarnings   bool     `json:"has_warnings"`
	Source        string   `json:"source,omitempty"`
	SyncTime      string   `json:"sync_time"`
}

// Dispatcher posts payloads to a fixed set of URL templates.
type Dispatcher struct {
	templates   []string
	client      *http.Client
	log         *logrus.Logger
	concurrency int
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger sets the logger delivery failures are reported on
func WithLogger(log *logrus.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New returns a dispatcher for the given URL templates. Templates may use
// {activity_id} and {import_log_id}.
func New(templates []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		templates:   templates,
		client:      &http.Client{Timeout: defaultTimeout},
		log:         logrus.StandardLogger(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enabled reports whether any target is configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.templates) > 0
}

// Targets templates, normalizes and de-dupes the configured URLs for payload.
func (d *Dispatcher) Targets(payload Payload) []string {
	if !d.Enabled() {
		return nil
	}

	seen := make(map[string]struct{}, len(d.templates))
	var targets []string
	for _, raw := range d.templates {
		templated := strings.TrimSpace(applyTemplate(strings.TrimSpace(raw), payload))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidURL(templated) {
			d.log.WithField("url", templated).Warn("webhooks: skipping invalid url")
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		targets = append(targets, templated)
	}
	return targets
}

// Dispatch posts payload to every target and blocks until all deliveries
// finish. It returns the number of targets that answered 2xx.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) int {
	urls := d.Targets(payload)
	if len(urls) == 0 {
		return 0
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.log.WithError(err).Error("webhooks: failed to encode payload")
		return 0
	}

	workers := d.concurrency
	if len(urls) < workers {
		workers = len(urls)
	}

	var (
		mu        sync.Mutex
		delivered int
		wg        sync.WaitGroup
	)
	jobs := make(chan string)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				if err := d.send(ctx, endpoint, body); err != nil {
					d.log.WithError(err).WithFields(logrus.Fields{
						"url":           endpoint,
						"import_log_id": payload.ImportLogID,
					}).Warn("webhooks: delivery failed")
					continue
				}
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func applyTemplate(raw string, payload Payload) string {
	result := strings.ReplaceAll(raw, "{activity_id}", url.PathEscape(payload.ActivityID))
	return strings.ReplaceAll(result, "{import_log_id}", payload.ImportLogID)
}

func isValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
