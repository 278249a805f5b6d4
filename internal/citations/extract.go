// Package citations implements the citations ladder (C10): URL
// extraction from wave output markdown, normalization into stable
// cids, and offline/online validation, per spec.md §4.7. Grounded on
// the teacher's pkg/runbook fetch-with-fallback pattern for the
// online tiered ladder, generalized here to direct-fetch → Bright
// Data → Apify.
package citations

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

var urlPattern = regexp.MustCompile(`https?://[^\s)\]>]+`)

// maxFoundByPerURL caps the found_by bookkeeping list per spec
// section 4.7 phase 1.
const maxFoundByPerURL = 20

// ExtractURLs scans every perspective's wave output markdown for a
// "## Sources" section and collects HTTP(S) URLs in encountered order.
// waves lists the wave numbers to scan (e.g. []int{1} before pivot,
// []int{1, 2} once wave-2 exists).
func ExtractURLs(runRoot string, waves []int, perspectiveIDs []string) ([]schema.ExtractedURL, *errs.Error) {
	var extracted []schema.ExtractedURL

	for _, wave := range waves {
		waveLabel := fmt.Sprintf("wave-%d", wave)
		for _, pid := range perspectiveIDs {
			if !store.ValidPathSegment(pid) {
				return nil, errs.New(errs.PathTraversal, "perspective id is not safe as a path segment", errs.D("id", pid))
			}
			path, we := store.WithinRoot(runRoot, filepath.Join(waveLabel, pid+".md"))
			if we != nil {
				return nil, we
			}
			if !store.Exists(path) {
				continue
			}
			urls, e := extractFromFile(path, waveLabel, pid)
			if e != nil {
				return nil, e
			}
			extracted = append(extracted, urls...)
		}
	}
	return extracted, nil
}

func extractFromFile(path, waveLabel, perspectiveID string) ([]schema.ExtractedURL, *errs.Error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "open wave output for url extraction", err, errs.D("path", path))
	}
	defer f.Close()

	var results []schema.ExtractedURL
	inSources := false
	ordinal := 0
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "#") {
			heading := strings.ToLower(strings.TrimLeft(lower, "# "))
			inSources = heading == "sources"
			continue
		}
		if !inSources {
			continue
		}
		for _, u := range urlPattern.FindAllString(line, -1) {
			results = append(results, schema.ExtractedURL{
				URL: u,
				FoundBy: schema.FoundBy{
					Wave:          waveLabel,
					PerspectiveID: perspectiveID,
					SourceLine:    lineNo,
					Ordinal:       ordinal,
				},
			})
			ordinal++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "scan wave output for url extraction", err, errs.D("path", path))
	}
	return results, nil
}

// sortFoundBy orders found_by entries by (wave file, perspective,
// source_line), per spec.md §3 ordering guarantee (d).
func sortFoundBy(fb []schema.FoundBy) {
	sort.Slice(fb, func(i, j int) bool {
		if fb[i].Wave != fb[j].Wave {
			return fb[i].Wave < fb[j].Wave
		}
		if fb[i].PerspectiveID != fb[j].PerspectiveID {
			return fb[i].PerspectiveID < fb[j].PerspectiveID
		}
		return fb[i].SourceLine < fb[j].SourceLine
	})
}

// WriteExtractionArtifacts persists extracted-urls.txt (one raw URL per
// line, encounter order) and found-by.json (URL -> capped found_by list,
// sorted by (wave, perspective, source_line)).
func WriteExtractionArtifacts(runRoot string, extracted []schema.ExtractedURL) *errs.Error {
	var lines []string
	foundBy := make(map[string][]schema.FoundBy)
	for _, e := range extracted {
		lines = append(lines, e.URL)
		if len(foundBy[e.URL]) < maxFoundByPerURL {
			foundBy[e.URL] = append(foundBy[e.URL], e.FoundBy)
		}
	}
	for url := range foundBy {
		sortFoundBy(foundBy[url])
	}

	txtPath, we := store.WithinRoot(runRoot, filepath.Join("citations", "extracted-urls.txt"))
	if we != nil {
		return we
	}
	if werr := store.AtomicWriteText(txtPath, []byte(strings.Join(lines, "\n")+"\n")); werr != nil {
		return werr
	}
	foundByPath, we := store.WithinRoot(runRoot, filepath.Join("citations", "found-by.json"))
	if we != nil {
		return we
	}
	return store.AtomicWriteJSON(foundByPath, foundBy)
}
