package citations

import (
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// NormalizeURL lowercases the scheme and host, strips a trailing slash
// from an otherwise-empty path, drops any fragment, and strips
// userinfo from the visible form while reporting whether userinfo was
// present (invariant 10: such URLs are always marked invalid).
func NormalizeURL(raw string) (normalized string, hasUserinfo bool, err error) {
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", false, perr
	}
	hasUserinfo = u.User != nil
	u.User = nil
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), hasUserinfo, nil
}

// BuildURLMap normalizes and de-duplicates extracted URLs into entries
// sorted by normalized URL, assigning cids in that sorted order so they
// do not depend on encounter order. A normalized URL with any occurrence
// carrying userinfo is flagged HasUserinfo, per invariant 10.
func BuildURLMap(extracted []schema.ExtractedURL) ([]schema.URLMapEntry, error) {
	index := make(map[string]int)
	var entries []schema.URLMapEntry

	for _, e := range extracted {
		normalized, hasUserinfo, err := NormalizeURL(e.URL)
		if err != nil {
			continue
		}
		if idx, ok := index[normalized]; ok {
			entry := &entries[idx]
			entry.OriginalURLs = appendUnique(entry.OriginalURLs, e.URL)
			entry.HasUserinfo = entry.HasUserinfo || hasUserinfo
			if len(entry.FoundBy) < maxFoundByPerURL {
				entry.FoundBy = append(entry.FoundBy, e.FoundBy)
			}
			continue
		}
		index[normalized] = len(entries)
		entries = append(entries, schema.URLMapEntry{
			CID:           cidFor(len(entries)),
			NormalizedURL: normalized,
			OriginalURLs:  []string{e.URL},
			FoundBy:       []schema.FoundBy{e.FoundBy},
			HasUserinfo:   hasUserinfo,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].NormalizedURL < entries[j].NormalizedURL })
	// Reassign cids after sorting so they are stable given the same
	// input set regardless of encounter order.
	for i := range entries {
		entries[i].CID = cidFor(i)
		sortFoundBy(entries[i].FoundBy)
	}
	return entries, nil
}

func cidFor(i int) string {
	return "c-" + padLeft(i)
}

func padLeft(i int) string {
	s := strconv.Itoa(i)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// URLMapPath returns citations/url-map.json's path.
func URLMapPath(runRoot string) string {
	return filepath.Join(runRoot, "citations", "url-map.json")
}

// WriteURLMap writes the url-map.v1 document.
func WriteURLMap(runRoot string, entries []schema.URLMapEntry) *errs.Error {
	doc := struct {
		SchemaVersion string               `json:"schema_version"`
		Entries       []schema.URLMapEntry `json:"entries"`
	}{SchemaVersion: schema.URLMapSchemaVersion, Entries: entries}
	path, we := store.WithinRoot(runRoot, filepath.Join("citations", "url-map.json"))
	if we != nil {
		return we
	}
	return store.AtomicWriteJSON(path, doc)
}
