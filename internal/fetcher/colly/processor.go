// Package collyfetcher implements the fetch-and-analyze collaborator using
// the Colly collector: it downloads each URL and scans the body against a
// blocked-term list, producing filtered results for compliance hits.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/batch"
	"github.com/pip-arch/url-compliance-checker/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	// PerDomainRPS paces requests per domain on top of the engine's
	// admission control; <= 0 disables pacing.
	PerDomainRPS float64
	Burst        int
	// BlockedTerms are compliance terms; a body containing one yields a
	// filtered result with the term as reason.
	BlockedTerms []string
}

// Processor implements batch.Processor with a Colly collector.
type Processor struct {
	cfg     Config
	limiter *ratelimit.Limiter
	base    *colly.Collector
	terms   []string
	logger  *zap.Logger
}

// New builds a Processor.
func New(cfg Config, logger *zap.Logger) *Processor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(colly.AllowURLRevisit())
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.SetRequestTimeout(cfg.Timeout)

	terms := make([]string, 0, len(cfg.BlockedTerms))
	for _, t := range cfg.BlockedTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Processor{
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.PerDomainRPS, DefaultBurst: cfg.Burst}),
		base:    base,
		terms:   terms,
		logger:  logger,
	}
}

// Process fetches one URL and classifies the outcome. Transport-level
// problems are returned as errors so the engine counts them as failures and
// feeds the circuit breaker; policy outcomes (robots, HTTP status, blocked
// terms) come back as results with a nil error.
func (p *Processor) Process(ctx context.Context, item batch.WorkItem) (batch.WorkResult, error) {
	if err := p.limiter.Wait(ctx, item.URL); err != nil {
		return batch.WorkResult{}, err
	}

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector := p.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(item.URL); err != nil {
			fetchErr = err
		}
		collector.Wait()
	}()
	select {
	case <-ctx.Done():
		return batch.WorkResult{}, fmt.Errorf("fetch %s: %w", item.URL, ctx.Err())
	case <-done:
	}

	switch {
	case errors.Is(fetchErr, colly.ErrRobotsTxtBlocked):
		return batch.WorkResult{
			Outcome:       batch.OutcomeSkipped,
			FailureReason: "blocked by robots.txt",
		}, nil
	case fetchErr != nil && status == 0:
		return batch.WorkResult{}, fmt.Errorf("fetch %s: %w", item.URL, fetchErr)
	case status >= http.StatusBadRequest:
		return batch.WorkResult{
			Outcome:       batch.OutcomeFailed,
			FailureReason: fmt.Sprintf("http status %d", status),
		}, nil
	}

	if term := p.matchBlockedTerm(body); term != "" {
		p.logger.Debug("blocked term matched",
			zap.String("url", item.URL),
			zap.String("term", term),
		)
		return batch.WorkResult{
			Outcome:      batch.OutcomeFiltered,
			FilterReason: term,
		}, nil
	}
	return batch.WorkResult{Outcome: batch.OutcomeSucceeded}, nil
}

func (p *Processor) matchBlockedTerm(body []byte) string {
	if len(p.terms) == 0 || len(body) == 0 {
		return ""
	}
	haystack := strings.ToLower(string(body))
	for _, term := range p.terms {
		if strings.Contains(haystack, term) {
			return term
		}
	}
	return ""
}
