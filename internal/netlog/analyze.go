package netlog

import (
	"sort"
	"strconv"
	"strings"

	"pharos/internal/fault"
)

// Header returns the response header value for name, matching
// case-insensitively the way HTTP requires.
func (r *Record) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// urlsEqual compares URLs ignoring fragments.
func urlsEqual(a, b string) bool {
	return stripFragment(a) == stripFragment(b)
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// MainDocument finds the record for the navigation to url and follows its
// redirect chain to the final hop. Returns nil when the log contains no
// document request for url at all.
func MainDocument(records []*Record, url string) *Record {
	docs := make([]*Record, 0, 4)
	for _, r := range records {
		if r.ResourceType == TypeDocument {
			docs = append(docs, r)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].StartTime < docs[j].StartTime })

	start := docs[0]
	for _, d := range docs {
		if urlsEqual(d.URL, url) {
			start = d
			break
		}
	}
	for start.RedirectDestination != nil {
		start = start.RedirectDestination
	}
	return start
}

// RedirectChain walks back from the final document hop to the initial
// request. The returned slice is ordered initial to final and always
// contains at least the record itself.
func RedirectChain(final *Record) []*Record {
	var chain []*Record
	for r := final; r != nil; r = r.RedirectSource {
		chain = append(chain, r)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// ClassifyLoad decides whether the navigation to url produced a usable
// document. It returns nil on success and a page-load fault otherwise.
func ClassifyLoad(records []*Record, url string) error {
	doc := MainDocument(records, url)
	if doc == nil {
		return fault.NoDocumentRequest(url)
	}
	if doc.Failed {
		return fault.FailedDocumentRequest(url, doc.ErrorText)
	}
	if doc.StatusCode >= 400 {
		return fault.FailedDocumentRequest(url, "status code "+strconv.Itoa(doc.StatusCode))
	}
	return nil
}
