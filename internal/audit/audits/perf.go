package audits

import (
	"context"
	"fmt"

	"pharos/internal/artifacts"
	"pharos/internal/audit"
	"pharos/internal/computed"
)

// FirstContentfulPaint scores how quickly the page first painted content.
type FirstContentfulPaint struct{}

func (FirstContentfulPaint) Meta() audit.Meta {
	return audit.Meta{
		ID:                "first-contentful-paint",
		Title:             "First Contentful Paint",
		Description:       "Time until the first text or image is painted.",
		RequiredArtifacts: []string{artifacts.NameTraces},
		OptionalArtifacts: []string{artifacts.NameDevtoolsLogs},
		ScoreDisplayMode:  audit.ModeNumeric,
		Options:           map[string]any{"targetMs": 1800.0, "ceilingMs": 6000.0},
	}
}

func (FirstContentfulPaint) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	timings, err := computed.Timings(ctx, ac.Cache, set, artifacts.DefaultPass)
	if err != nil {
		return audit.Product{}, err
	}
	fcp := timings.FirstContentfulPaintMs
	if fcp <= 0 {
		return audit.Product{Score: nil, DisplayValue: "no contentful paint observed"}, nil
	}
	score := linearScore(fcp, ac.FloatOption("targetMs", 1800), ac.FloatOption("ceilingMs", 6000))
	return audit.Product{
		Score:        audit.Score(score),
		NumericValue: fcp,
		DisplayValue: fmt.Sprintf("%.1f s", fcp/1000),
	}, nil
}

// RegisterAll adds every stock audit to the registry.
func RegisterAll(r *audit.Registry) {
	r.MustRegister("is-on-https", func() audit.Audit { return IsOnHTTPS{} })
	r.MustRegister("redirects", func() audit.Audit { return Redirects{} })
	r.MustRegister("http-status-code", func() audit.Audit { return HTTPStatusCode{} })
	r.MustRegister("server-response-time", func() audit.Audit { return ServerResponseTime{} })
	r.MustRegister("total-byte-weight", func() audit.Audit { return TotalByteWeight{} })
	r.MustRegister("errors-in-console", func() audit.Audit { return ErrorsInConsole{} })
	r.MustRegister("first-contentful-paint", func() audit.Audit { return FirstContentfulPaint{} })
	r.MustRegister("doctype", func() audit.Audit { return DoctypeAudit{} })
	r.MustRegister("document-title", func() audit.Audit { return DocumentTitle{} })
	r.MustRegister("meta-description", func() audit.Audit { return MetaDescription{} })
	r.MustRegister("viewport", func() audit.Audit { return Viewport{} })
	r.MustRegister("is-crawlable", func() audit.Audit { return IsCrawlable{} })
}
