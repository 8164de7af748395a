package computed

import (
	"context"

	"pharos/internal/artifacts"
	"pharos/internal/fault"
	"pharos/internal/netlog"
)

// NetworkRecords reconstructs the request records for a pass from its
// recorded devtools log. The dependency fingerprint is the pass name:
// every pass has its own log and therefore its own record list.
func NetworkRecords(ctx context.Context, c *Cache, set *artifacts.Set, pass string) ([]*netlog.Record, error) {
	return Get(ctx, c, "network-records@"+pass, func(context.Context) ([]*netlog.Record, error) {
		log, ok := set.DevtoolsLogs[pass]
		if !ok {
			return nil, fault.Newf(fault.CodeMissingArtifact, "no devtools log recorded for pass %q", pass)
		}
		return netlog.FromLog(log), nil
	})
}

// MainResource finds the final main-document request for a pass. Derived
// from NetworkRecords through the cache, so the log is replayed once no
// matter how many audits ask.
func MainResource(ctx context.Context, c *Cache, set *artifacts.Set, pass string) (*netlog.Record, error) {
	return Get(ctx, c, "main-resource@"+pass, func(ctx context.Context) (*netlog.Record, error) {
		records, err := NetworkRecords(ctx, c, set, pass)
		if err != nil {
			return nil, err
		}
		doc := netlog.MainDocument(records, set.URL)
		if doc == nil {
			return nil, fault.NoDocumentRequest(set.URL)
		}
		return doc, nil
	})
}

// TransferSummary totals what the page shipped over the wire for a pass.
type TransferSummary struct {
	Requests      int   `json:"requests"`
	TotalBytes    int64 `json:"totalBytes"`
	TotalResource int64 `json:"totalResource"`
}

// Transfer sums transfer and decoded sizes over the finished records of a
// pass. Cached requests contribute no transfer bytes.
func Transfer(ctx context.Context, c *Cache, set *artifacts.Set, pass string) (TransferSummary, error) {
	return Get(ctx, c, "transfer@"+pass, func(ctx context.Context) (TransferSummary, error) {
		records, err := NetworkRecords(ctx, c, set, pass)
		if err != nil {
			return TransferSummary{}, err
		}
		var sum TransferSummary
		for _, r := range records {
			if !r.Finished || r.Failed {
				continue
			}
			sum.Requests++
			if !r.FromCache {
				sum.TotalBytes += r.TransferSize
			}
			sum.TotalResource += r.ResourceSize
		}
		return sum, nil
	})
}
