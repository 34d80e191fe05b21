// Package nlu provides the optional external intent classifier.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"crispdesk/internal/domain"
	"crispdesk/internal/httpclient"
	"crispdesk/internal/metrics"
)

const (
	defaultWitAPIBase = "https://api.wit.ai"
	witAPIVersion     = "20240304"
)

// WitConfig configures a Wit client.
type WitConfig struct {
	APIBase    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Wit classifies utterances with the wit.ai message endpoint.
type Wit struct {
	apiBase string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewWit(cfg WitConfig) *Wit {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultWitAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New(httpclient.Options{Timeout: cfg.Timeout, MaxConnsPerHost: 4, UserAgent: "crispdesk-nlu"})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Wit{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

func (w *Wit) Name() string { return "wit" }

// Classify returns the intents wit.ai ranks for text, best first.
func (w *Wit) Classify(ctx context.Context, text string) (*domain.NLUResult, error) {
	q := url.Values{}
	q.Set("v", witAPIVersion)
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiBase+"/message?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Accept", "application/json")

	metrics.NLURequests.Inc()
	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		metrics.NLUFailures.Inc()
		return nil, fmt.Errorf("wit request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.NLUFailures.Inc()
		return nil, fmt.Errorf("read wit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.NLUFailures.Inc()
		return nil, fmt.Errorf("wit: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result domain.NLUResult
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.NLUFailures.Inc()
		return nil, fmt.Errorf("decode wit response: %w", err)
	}
	sort.SliceStable(result.Labels, func(i, j int) bool {
		return result.Labels[i].Confidence > result.Labels[j].Confidence
	})

	if top, ok := result.Top(); ok {
		w.logger.Debug("nlu classified", "intent", top.Name, "confidence", top.Confidence, "latency", time.Since(start))
	}
	return &result, nil
}
