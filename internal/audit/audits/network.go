// Package audits holds the stock audit implementations. Formulas are kept
// plain; the interesting part is what each audit demands from the artifact
// set and the computed cache.
package audits

import (
	"context"
	"fmt"
	"strings"

	"pharos/internal/artifacts"
	"pharos/internal/audit"
	"pharos/internal/computed"
	"pharos/internal/netlog"
)

// linearScore maps a measured value onto [0, 1]: 1 at or below target,
// 0 at or beyond ceiling, linear in between.
func linearScore(value, target, ceiling float64) float64 {
	if value <= target {
		return 1
	}
	if value >= ceiling {
		return 0
	}
	return (ceiling - value) / (ceiling - target)
}

// IsOnHTTPS flags resources fetched over insecure schemes.
type IsOnHTTPS struct{}

func (IsOnHTTPS) Meta() audit.Meta {
	return audit.Meta{
		ID:                "is-on-https",
		Title:             "Uses HTTPS",
		Description:       "All network requests should be served over HTTPS.",
		RequiredArtifacts: []string{artifacts.NameDevtoolsLogs},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (IsOnHTTPS) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	records, err := computed.NetworkRecords(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	var insecure []string
	for _, r := range records {
		if isInsecureURL(r.URL) {
			insecure = append(insecure, r.URL)
		}
	}
	p := audit.Binary(len(insecure) == 0)
	if len(insecure) > 0 {
		p.DisplayValue = fmt.Sprintf("%d insecure request(s)", len(insecure))
		p.Details = insecure
	}
	return p, nil
}

func isInsecureURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") {
		return false
	}
	rest := strings.TrimPrefix(raw, "http://")
	host := rest
	if i := strings.IndexAny(rest, ":/"); i >= 0 {
		host = rest[:i]
	}
	return host != "localhost" && host != "127.0.0.1"
}

// Redirects penalizes main-document redirect chains.
type Redirects struct{}

func (Redirects) Meta() audit.Meta {
	return audit.Meta{
		ID:                "redirects",
		Title:             "Avoids page redirects",
		Description:       "Each redirect before the main document delays the load.",
		RequiredArtifacts: []string{artifacts.NameDevtoolsLogs, artifacts.NameURL},
		ScoreDisplayMode:  audit.ModeNumeric,
	}
}

func (Redirects) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	doc, err := computed.MainResource(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	hops := len(netlog.RedirectChain(doc)) - 1
	score := 1.0
	if hops > 0 {
		// One redirect is common (apex to www); more than that costs.
		score = linearScore(float64(hops), 1, 4)
	}
	return audit.Product{
		Score:        audit.Score(score),
		NumericValue: float64(hops),
		DisplayValue: fmt.Sprintf("%d redirect(s)", hops),
	}, nil
}

// HTTPStatusCode verifies the main document answered successfully.
type HTTPStatusCode struct{}

func (HTTPStatusCode) Meta() audit.Meta {
	return audit.Meta{
		ID:                "http-status-code",
		Title:             "Page has successful HTTP status code",
		Description:       "Pages with 4xx/5xx status codes are not indexed.",
		RequiredArtifacts: []string{artifacts.NameDevtoolsLogs, artifacts.NameURL},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (HTTPStatusCode) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	doc, err := computed.MainResource(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	p := audit.Binary(doc.StatusCode > 0 && doc.StatusCode < 400)
	p.DisplayValue = fmt.Sprintf("status %d", doc.StatusCode)
	return p, nil
}

// ServerResponseTime measures the main document's time to first byte.
type ServerResponseTime struct{}

func (ServerResponseTime) Meta() audit.Meta {
	return audit.Meta{
		ID:                "server-response-time",
		Title:             "Initial server response time",
		Description:       "The main document should start arriving quickly.",
		RequiredArtifacts: []string{artifacts.NameDevtoolsLogs, artifacts.NameURL},
		ScoreDisplayMode:  audit.ModeNumeric,
		Options:           map[string]any{"targetMs": 100.0, "ceilingMs": 600.0},
	}
}

func (ServerResponseTime) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	doc, err := computed.MainResource(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	if doc.Timing == nil {
		return audit.Product{Score: nil, DisplayValue: "no timing recorded"}, nil
	}
	ms := doc.Timing.ReceiveHeadersEnd - doc.Timing.SendEnd
	if ms < 0 {
		ms = 0
	}
	score := linearScore(ms, ac.FloatOption("targetMs", 100), ac.FloatOption("ceilingMs", 600))
	return audit.Product{
		Score:        audit.Score(score),
		NumericValue: ms,
		DisplayValue: fmt.Sprintf("root document took %.0f ms", ms),
	}, nil
}

// TotalByteWeight totals the page's transfer size against a budget.
type TotalByteWeight struct{}

func (TotalByteWeight) Meta() audit.Meta {
	return audit.Meta{
		ID:                "total-byte-weight",
		Title:             "Avoids enormous network payloads",
		Description:       "Large payloads cost users time and money.",
		RequiredArtifacts: []string{artifacts.NameDevtoolsLogs},
		ScoreDisplayMode:  audit.ModeNumeric,
		Options:           map[string]any{"targetBytes": 1_600_000.0, "ceilingBytes": 6_000_000.0},
	}
}

func (TotalByteWeight) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	sum, err := computed.Transfer(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	total := float64(sum.TotalBytes)
	score := linearScore(total, ac.FloatOption("targetBytes", 1_600_000), ac.FloatOption("ceilingBytes", 6_000_000))
	return audit.Product{
		Score:        audit.Score(score),
		NumericValue: total,
		DisplayValue: fmt.Sprintf("total size was %.0f KiB over %d requests", total/1024, sum.Requests),
		Details:      sum,
	}, nil
}
