// Package news implements the News Ingestion Pipeline: it consumes the
// bridge's raw NEWS fan-out, extracts candidate ticker symbols from each
// payload, de-duplicates them within a rolling window, and emits
// TickerEvents onto the detection channel.
package news

import "context"

// Extractor turns one raw news payload into a set of candidate ticker
// symbols. Implementations must not block past their own configured
// deadline; extraction failures are reported as an error and the caller
// counts and drops the payload rather than stalling the pipeline.
type Extractor interface {
	Extract(ctx context.Context, payload string) ([]string, error)
}

// isTickerToken reports whether s is a plausible ticker symbol: 1 to 5
// uppercase ASCII letters, matching the classifier's structured-response
// validation rule.
func isTickerToken(s string) bool {
	if len(s) < 1 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// dedupeTickers returns tickers with duplicates removed, preserving
// first-seen order.
func dedupeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
