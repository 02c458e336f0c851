// Command ariaperf replays synthetic text turns against a running ariad
// and reports per-turn latency percentiles.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

type wsEnvelope struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	TextDelta string `json:"text_delta"`
	Content   string `json:"content"`
	Detail    string `json:"detail"`
}

type turnResult struct {
	firstDelta time.Duration
	total      time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ariaperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ariaperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8930", "ariad base URL")
	flag.IntVar(&cfg.turns, "turns", 10, "number of text turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for the assistant message per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var texts []string
	for _, part := range strings.Split(raw, "|") {
		t := strings.TrimSpace(part)
		if t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	wsURL, err := eventsWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			var env wsEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				readErrCh <- err
				return
			}
			events <- env
		}
	}()

	var results []turnResult
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("ariaperf: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}

		start := time.Now()
		if err := postText(ctx, httpClient, cfg.baseURL, text); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		result, err := awaitTurn(events, readErrCh, start, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, result)

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(results)
	printServerStages(ctx, httpClient, cfg.baseURL)
	return nil
}

func postText(ctx context.Context, client *http.Client, baseURL, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/pipeline/text", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// awaitTurn watches the event feed until the turn's final assistant
// message arrives, tracking time to the first streamed delta on the way.
func awaitTurn(events <-chan wsEnvelope, readErrCh <-chan error, start time.Time, timeout time.Duration) (turnResult, error) {
	var result turnResult
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case err := <-readErrCh:
			return result, fmt.Errorf("ws read: %w", err)
		case <-deadline.C:
			return result, fmt.Errorf("timed out after %v", timeout)
		case env := <-events:
			switch env.Type {
			case "assistant_delta":
				if result.firstDelta == 0 {
					result.firstDelta = time.Since(start)
				}
			case "assistant_message":
				result.total = time.Since(start)
				return result, nil
			case "error_event":
				return result, fmt.Errorf("server error: %s", env.Detail)
			}
		}
	}
}

func printSummary(results []turnResult) {
	if len(results) == 0 {
		return
	}
	var firstDeltas, totals []float64
	for _, r := range results {
		if r.firstDelta > 0 {
			firstDeltas = append(firstDeltas, float64(r.firstDelta.Milliseconds()))
		}
		totals = append(totals, float64(r.total.Milliseconds()))
	}
	fmt.Printf("ariaperf: %d turns completed\n", len(results))
	fmt.Printf("  first_delta_ms p50=%.0f p95=%.0f\n", percentile(firstDeltas, 0.50), percentile(firstDeltas, 0.95))
	fmt.Printf("  turn_total_ms  p50=%.0f p95=%.0f\n", percentile(totals, 0.50), percentile(totals, 0.95))
}

func printServerStages(ctx context.Context, client *http.Client, baseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return
	}
	res, err := client.Do(req)
	if err != nil {
		fmt.Printf("ariaperf: server stage snapshot unavailable: %v\n", err)
		return
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil || res.StatusCode != http.StatusOK {
		return
	}
	fmt.Printf("ariaperf: server stages: %s\n", strings.TrimSpace(string(body)))
}

func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func eventsWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events/ws"
	return u.String(), nil
}
