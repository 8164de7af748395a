package audits

import (
	"context"
	"fmt"
	"strings"

	"pharos/internal/artifacts"
	"pharos/internal/audit"
	"pharos/internal/computed"
	"pharos/internal/gather/gatherers"
)

// ErrorsInConsole fails pages that logged errors while loading.
type ErrorsInConsole struct{}

func (ErrorsInConsole) Meta() audit.Meta {
	return audit.Meta{
		ID:                "errors-in-console",
		Title:             "No browser errors logged to the console",
		Description:       "Console errors indicate unresolved problems on the page.",
		RequiredArtifacts: []string{gatherers.ConsoleMessagesName},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (ErrorsInConsole) Evaluate(_ context.Context, set *artifacts.Set, _ *audit.Context) (audit.Product, error) {
	r, _ := set.Get(gatherers.ConsoleMessagesName)
	messages, err := artifacts.As[[]gatherers.ConsoleMessage](r)
	if err != nil {
		return audit.Product{}, err
	}
	var errs []gatherers.ConsoleMessage
	for _, m := range messages {
		if m.Level == "error" {
			errs = append(errs, m)
		}
	}
	p := audit.Binary(len(errs) == 0)
	if len(errs) > 0 {
		p.DisplayValue = fmt.Sprintf("%d error(s)", len(errs))
		p.Details = errs
	}
	return p, nil
}

// DoctypeAudit requires a standards-mode HTML doctype.
type DoctypeAudit struct{}

func (DoctypeAudit) Meta() audit.Meta {
	return audit.Meta{
		ID:                "doctype",
		Title:             "Page has the HTML doctype",
		Description:       "A missing or legacy doctype triggers quirks mode.",
		RequiredArtifacts: []string{gatherers.DoctypeName},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (DoctypeAudit) Evaluate(_ context.Context, set *artifacts.Set, _ *audit.Context) (audit.Product, error) {
	r, _ := set.Get(gatherers.DoctypeName)
	doctype, err := artifacts.As[*gatherers.Doctype](r)
	if err != nil {
		return audit.Product{}, err
	}
	if doctype == nil {
		p := audit.Binary(false)
		p.DisplayValue = "document has no doctype"
		return p, nil
	}
	ok := strings.EqualFold(doctype.DoctypeName, "html") && doctype.PublicID == "" && doctype.SystemID == ""
	p := audit.Binary(ok)
	if !ok {
		p.DisplayValue = fmt.Sprintf("doctype %q is not the standards-mode <!DOCTYPE html>", doctype.DoctypeName)
	}
	return p, nil
}

// DocumentTitle requires a non-empty <title>.
type DocumentTitle struct{}

func (DocumentTitle) Meta() audit.Meta {
	return audit.Meta{
		ID:                "document-title",
		Title:             "Document has a title element",
		Description:       "The title tells users and search engines what the page is about.",
		RequiredArtifacts: []string{gatherers.MetaElementsName},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (DocumentTitle) Evaluate(_ context.Context, set *artifacts.Set, _ *audit.Context) (audit.Product, error) {
	meta, err := pageMeta(set)
	if err != nil {
		return audit.Product{}, err
	}
	return audit.Binary(strings.TrimSpace(meta.Title) != ""), nil
}

// MetaDescription requires a non-empty description meta tag.
type MetaDescription struct{}

func (MetaDescription) Meta() audit.Meta {
	return audit.Meta{
		ID:                "meta-description",
		Title:             "Document has a meta description",
		Description:       "Search engines fall back to page content without one.",
		RequiredArtifacts: []string{gatherers.MetaElementsName},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (MetaDescription) Evaluate(_ context.Context, set *artifacts.Set, _ *audit.Context) (audit.Product, error) {
	meta, err := pageMeta(set)
	if err != nil {
		return audit.Product{}, err
	}
	desc := meta.Find("description")
	return audit.Binary(desc != nil && strings.TrimSpace(desc.Content) != ""), nil
}

// Viewport requires a mobile-friendly viewport meta tag.
type Viewport struct{}

func (Viewport) Meta() audit.Meta {
	return audit.Meta{
		ID:                "viewport",
		Title:             "Has a viewport meta tag",
		Description:       "Without a viewport tag, mobile browsers render at desktop width.",
		RequiredArtifacts: []string{gatherers.MetaElementsName},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (Viewport) Evaluate(_ context.Context, set *artifacts.Set, _ *audit.Context) (audit.Product, error) {
	meta, err := pageMeta(set)
	if err != nil {
		return audit.Product{}, err
	}
	vp := meta.Find("viewport")
	ok := vp != nil && strings.Contains(strings.ToLower(vp.Content), "width=")
	p := audit.Binary(ok)
	if vp == nil {
		p.DisplayValue = "no viewport meta tag"
	}
	return p, nil
}

// IsCrawlable fails pages that block indexing via robots meta tag or the
// X-Robots-Tag response header.
type IsCrawlable struct{}

func (IsCrawlable) Meta() audit.Meta {
	return audit.Meta{
		ID:                "is-crawlable",
		Title:             "Page is not blocked from indexing",
		Description:       "Pages that forbid crawling never show up in search results.",
		RequiredArtifacts: []string{gatherers.MetaElementsName},
		OptionalArtifacts: []string{artifacts.NameDevtoolsLogs, artifacts.NameURL},
		ScoreDisplayMode:  audit.ModeBinary,
	}
}

func (IsCrawlable) Evaluate(ctx context.Context, set *artifacts.Set, ac *audit.Context) (audit.Product, error) {
	meta, err := pageMeta(set)
	if err != nil {
		return audit.Product{}, err
	}
	if robots := meta.Find("robots"); robots != nil && blocksIndexing(robots.Content) {
		p := audit.Binary(false)
		p.DisplayValue = "robots meta tag blocks indexing"
		return p, nil
	}
	// Header check is best effort: the devtools log is optional here.
	if len(set.DevtoolsLogs) > 0 {
		if doc, err := computed.MainResource(ctx, ac.Cache, set, artifacts.DefaultPass); err == nil {
			if blocksIndexing(doc.Header("X-Robots-Tag")) {
				p := audit.Binary(false)
				p.DisplayValue = "X-Robots-Tag header blocks indexing"
				return p, nil
			}
		}
	}
	return audit.Binary(true), nil
}

func blocksIndexing(directives string) bool {
	for _, d := range strings.Split(strings.ToLower(directives), ",") {
		switch strings.TrimSpace(d) {
		case "noindex", "none":
			return true
		}
	}
	return false
}

func pageMeta(set *artifacts.Set) (gatherers.MetaElements, error) {
	r, _ := set.Get(gatherers.MetaElementsName)
	return artifacts.As[gatherers.MetaElements](r)
}
