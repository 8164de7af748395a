package gatherers

import (
	"context"
	"strings"

	"pharos/internal/driver"
	"pharos/internal/gather"
)

// MetaElementsName is the artifact name for the page's head metadata.
const MetaElementsName = "meta-elements"

// MetaElement is one <meta> tag, name lowercased (property attribute is
// folded into name for og:/twitter: style tags).
type MetaElement struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// MetaElements is the document's title and head metadata.
type MetaElements struct {
	Title string        `json:"title"`
	Metas []MetaElement `json:"metas"`
}

// Find returns the first meta tag with the given name, or nil.
func (m MetaElements) Find(name string) *MetaElement {
	for i := range m.Metas {
		if strings.EqualFold(m.Metas[i].Name, name) {
			return &m.Metas[i]
		}
	}
	return nil
}

const metaExpression = `(() => {
	const metas = Array.from(document.querySelectorAll('head meta')).map(m => ({
		name: (m.getAttribute('name') || m.getAttribute('property') || '').toLowerCase(),
		content: m.getAttribute('content') || '',
	}));
	return {title: document.title, metas};
})()`

// Meta reads the title and meta tags out of the loaded document.
type Meta struct {
	gather.Base
}

func NewMeta() *Meta { return &Meta{} }

func (g *Meta) Name() string { return MetaElementsName }

func (g *Meta) AfterPass(ctx context.Context, pc *gather.PassContext, _ *gather.LoadData) (any, error) {
	var out MetaElements
	if err := driver.Evaluate(ctx, pc.Conn, metaExpression, &out); err != nil {
		return nil, err
	}
	return out, nil
}
