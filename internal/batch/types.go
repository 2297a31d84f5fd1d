// Package batch defines the core types for the URL batch-processing engine
// and implements the Coordinator that drives a batch run.
package batch

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Outcome is the closed set of terminal states for a single work item.
type Outcome string

// Work item outcomes recorded in BatchProgress counters.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFiltered  Outcome = "filtered"
)

// WorkItem is a single URL to process. Items are immutable once created and
// carry a stable identifier derived from the batch ID and the URL's position
// in the original input list, so a resumed run regenerates the same IDs.
type WorkItem struct {
	ID      string
	BatchID string
	Seq     int
	URL     string
}

// NewWorkItem builds a WorkItem for the URL at position seq in the batch.
func NewWorkItem(batchID string, seq int, rawURL string) WorkItem {
	return WorkItem{
		ID:      ItemID(batchID, seq),
		BatchID: batchID,
		Seq:     seq,
		URL:     rawURL,
	}
}

// ItemID returns the stable identifier for the seq-th URL of a batch.
func ItemID(batchID string, seq int) string {
	return fmt.Sprintf("%s#%d", batchID, seq)
}

// WorkResult is the outcome of processing one WorkItem. It is produced once
// and consumed exactly once by the Coordinator's aggregation step.
type WorkResult struct {
	ItemID        string
	Host          string
	Outcome       Outcome
	FailureReason string
	FilterReason  string
	Duration      time.Duration
}

// Succeeded reports whether the result counts as a healthy host response.
// Filtered and skipped items did not fail at the transport level, so they do
// not feed the circuit breaker's failure count.
func (r WorkResult) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}

// HostOf extracts the lowercase hostname from a raw URL. URLs without a
// scheme are treated as http so bare hostnames still resolve.
func HostOf(rawURL string) (string, error) {
	candidate := rawURL
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}
