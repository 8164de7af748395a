package gatherers

import (
	"context"

	"pharos/internal/driver"
	"pharos/internal/gather"
)

// DoctypeName is the artifact name for the document's doctype declaration.
const DoctypeName = "doctype"

// Doctype mirrors document.doctype. A page without a doctype declaration
// produces a nil artifact value.
type Doctype struct {
	DoctypeName string `json:"name"`
	PublicID    string `json:"publicId"`
	SystemID    string `json:"systemId"`
}

const doctypeExpression = `(() => {
	const d = document.doctype;
	if (!d) return null;
	return {name: d.name, publicId: d.publicId, systemId: d.systemId};
})()`

// DoctypeGatherer reads the doctype declaration out of the loaded document.
type DoctypeGatherer struct {
	gather.Base
}

func NewDoctype() *DoctypeGatherer { return &DoctypeGatherer{} }

func (g *DoctypeGatherer) Name() string { return DoctypeName }

func (g *DoctypeGatherer) AfterPass(ctx context.Context, pc *gather.PassContext, _ *gather.LoadData) (any, error) {
	var out *Doctype
	if err := driver.Evaluate(ctx, pc.Conn, doctypeExpression, &out); err != nil {
		return nil, err
	}
	if out == nil {
		// Keep the artifact value nil rather than a typed nil pointer so a
		// save/load round trip encodes it the same way.
		return nil, nil
	}
	return out, nil
}

// RegisterAll adds every stock gatherer to the registry.
func RegisterAll(r *gather.Registry) {
	r.MustRegister(ConsoleMessagesName, func() gather.Gatherer { return NewConsoleMessages() })
	r.MustRegister(MetaElementsName, func() gather.Gatherer { return NewMeta() })
	r.MustRegister(DoctypeName, func() gather.Gatherer { return NewDoctype() })
}
