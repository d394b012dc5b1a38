package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// OutcomeKind classifies the result of one sample fetch.
type OutcomeKind int

const (
	// OutcomeSample carries a decoded sample.
	OutcomeSample OutcomeKind = iota
	// OutcomeSkipped means no request was issued (end signal already set,
	// or the context was cancelled while waiting for a permit).
	OutcomeSkipped
	// OutcomeEndOfStream is the authoritative 404 sentinel.
	OutcomeEndOfStream
	// OutcomeMalformed means the body could not be decoded as a sample.
	OutcomeMalformed
	// OutcomeUnexpectedStatus is any non-200/404 response.
	OutcomeUnexpectedStatus
	// OutcomeTransport is a connect error or timeout.
	OutcomeTransport
)

// Outcome is the structured result of one fetch. Everything except
// OutcomeSample is treated as absence by the batch source; the kind exists
// so callers and tests never have to inspect logs.
type Outcome struct {
	Kind   OutcomeKind
	Sample Sample
	Status int
	Err    error
}

// FetcherConfig carries the per-request knobs of a Fetcher.
type FetcherConfig struct {
	URL         string
	Timeout     time.Duration
	RateLimit   float64       // requests/sec toward the server, 0 disables
	MaxAttempts int           // attempts per sample on transport errors, <=1 disables retry
	Backoff     time.Duration // base delay between attempts, doubled each retry
}

// Fetcher issues one bounded request per sample index and classifies the
// result. All fetches share one Throttle and one EndSignal.
type Fetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
	throttle   *Throttle
	end        *EndSignal
	limiter    *rate.Limiter
}

// NewFetcher builds a fetcher around a shared throttle and end signal.
func NewFetcher(cfg FetcherConfig, throttle *Throttle, end *EndSignal) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	f := &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   throttle,
		end:        end,
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return f
}

// Fetch retrieves one sample. Transport errors are retried with exponential
// backoff when MaxAttempts > 1; the permit is released before any backoff
// sleep, so one permit always covers exactly one network round trip.
func (f *Fetcher) Fetch(ctx context.Context, batchIndex, sampleIndex int) Outcome {
	attempts := f.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := f.cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		out := f.attempt(ctx, batchIndex, sampleIndex)
		if out.Kind != OutcomeTransport || attempt >= attempts {
			return out
		}
		log.Printf("retrying batch %d sample %d after transport error (attempt %d/%d): %v",
			batchIndex, sampleIndex, attempt, attempts, out.Err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return out
		}
		backoff *= 2
	}
}

func (f *Fetcher) attempt(ctx context.Context, batchIndex, sampleIndex int) Outcome {
	if err := f.throttle.Acquire(ctx); err != nil {
		return Outcome{Kind: OutcomeSkipped, Err: err}
	}
	defer f.throttle.Release()

	if f.end.Reached() {
		return Outcome{Kind: OutcomeSkipped}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: OutcomeSkipped, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return Outcome{Kind: OutcomeTransport, Err: err}
	}
	q := req.URL.Query()
	q.Set("batch_index", strconv.Itoa(batchIndex))
	q.Set("sample_index", strconv.Itoa(sampleIndex))
	req.URL.RawQuery = q.Encode()

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Printf("transport error for batch %d sample %d: %v", batchIndex, sampleIndex, err)
		return Outcome{Kind: OutcomeTransport, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Printf("body read error for batch %d sample %d: %v", batchIndex, sampleIndex, err)
			return Outcome{Kind: OutcomeTransport, Err: err}
		}
		var s Sample
		if err := json.Unmarshal(body, &s); err != nil {
			log.Printf("malformed sample for batch %d sample %d: %v", batchIndex, sampleIndex, err)
			return Outcome{Kind: OutcomeMalformed, Err: err}
		}
		return Outcome{Kind: OutcomeSample, Sample: s, Status: resp.StatusCode}
	case http.StatusNotFound:
		if !f.end.Reached() {
			log.Printf("received 404, stopping further requests")
		}
		f.end.Set()
		return Outcome{Kind: OutcomeEndOfStream, Status: resp.StatusCode}
	default:
		log.Printf("unexpected status %d for batch %d sample %d", resp.StatusCode, batchIndex, sampleIndex)
		return Outcome{Kind: OutcomeUnexpectedStatus, Status: resp.StatusCode}
	}
}
