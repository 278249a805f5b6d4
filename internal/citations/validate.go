package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// OfflineFixtures maps a normalized URL to the citation status and
// details an offline run should record for it, since offline mode
// never reaches the network.
type OfflineFixtures map[string]OfflineFixtureEntry

// OfflineFixtureEntry is one fixture row for offline validation.
type OfflineFixtureEntry struct {
	Status          schema.CitationStatus
	HTTPStatus      *int
	Title           string
	Publisher       string
	EvidenceSnippet string
	Notes           string
}

// ValidateOffline classifies each url-map entry using only the
// supplied fixture map; a missing fixture yields invalid with an
// explanatory note, per spec section 4.7 phase 3.
func ValidateOffline(entries []schema.URLMapEntry, fixtures OfflineFixtures, now time.Time) []schema.Citation {
	citations := make([]schema.Citation, 0, len(entries))
	for _, entry := range entries {
		if entry.HasUserinfo {
			citations = append(citations, citationFor(entry, schema.CitationInvalid, now, "url contains userinfo"))
			continue
		}
		fixture, ok := fixtures[entry.NormalizedURL]
		if !ok {
			citations = append(citations, citationFor(entry, schema.CitationInvalid, now, "no offline fixture for url"))
			continue
		}
		c := citationFor(entry, fixture.Status, now, fixture.Notes)
		c.HTTPStatus = fixture.HTTPStatus
		c.Title = fixture.Title
		c.Publisher = fixture.Publisher
		c.EvidenceSnippet = fixture.EvidenceSnippet
		citations = append(citations, c)
	}
	return SortCitations(citations)
}

func citationFor(entry schema.URLMapEntry, status schema.CitationStatus, now time.Time, notes string) schema.Citation {
	originalURL := entry.NormalizedURL
	if len(entry.OriginalURLs) > 0 {
		originalURL = entry.OriginalURLs[0]
	}
	return schema.Citation{
		CID:           entry.CID,
		NormalizedURL: entry.NormalizedURL,
		URL:           entry.NormalizedURL,
		URLOriginal:   originalURL,
		Status:        status,
		CheckedAt:     now,
		FoundBy:       entry.FoundBy,
		Notes:         notes,
	}
}

// SortCitations orders citations by normalized_url then url_original,
// matching the canonical citations.jsonl ordering spec.md §4.7 requires.
func SortCitations(citations []schema.Citation) []schema.Citation {
	sort.Slice(citations, func(i, j int) bool {
		if citations[i].NormalizedURL != citations[j].NormalizedURL {
			return citations[i].NormalizedURL < citations[j].NormalizedURL
		}
		return citations[i].URLOriginal < citations[j].URLOriginal
	})
	return citations
}

// WriteCitations writes citations/citations.jsonl, one record per line
// in sorted order.
func WriteCitations(runRoot string, citations []schema.Citation) *errs.Error {
	path, we := store.WithinRoot(runRoot, filepath.Join("citations", "citations.jsonl"))
	if we != nil {
		return we
	}
	var lines [][]byte
	for _, c := range citations {
		b, err := json.Marshal(c)
		if err != nil {
			return errs.Wrap(errs.InvalidJSON, "marshal citation record", err, nil)
		}
		lines = append(lines, b)
	}
	// Rewrite the file from scratch: citations_validate is idempotent
	// and must reproduce identical bytes on a re-run over the same
	// inputs (spec.md §8 scenario 5), which an append-only write
	// cannot guarantee across reruns.
	content := joinLines(lines)
	return store.AtomicWriteText(path, content)
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}

// Fetcher performs one tier's network check for a normalized URL. No
// net/http-backed implementation ships in this repository; tests supply
// deterministic stubs, matching the "online dry-run deterministic" mode
// spec section 4.7 names as an alternative to a live ladder.
type Fetcher interface {
	Fetch(ctx context.Context, url string, policy schema.CitationsLadderPolicy) (FetchResult, error)
}

// FetchResult is one tier attempt's outcome.
type FetchResult struct {
	HTTPStatus int
	Blocked    bool
	Title      string
	Publisher  string
}

// Tier names the online ladder's rungs in attempt order.
type Tier string

const (
	TierDirect     Tier = "direct"
	TierBrightData Tier = "bright_data"
	TierApify      Tier = "apify"
)

// LadderConfig selects which tiers are available for this run: a tier
// is attempted only when its Fetcher is non-nil, Direct included, so a
// zero LadderConfig attempts no tier at all. Bright Data and Apify are
// nil unless the caller configured an endpoint for them (gate F requires
// at least one when citations mode is online and sensitivity isn't
// no_web).
type LadderConfig struct {
	Direct     Fetcher
	BrightData Fetcher // nil if not configured
	Apify      Fetcher // nil if not configured
}

// ValidateOnline classifies each url-map entry by walking the tiered
// ladder (direct, then Bright Data, then Apify) until one tier
// succeeds or all configured tiers are exhausted, recording which tier
// produced the result as an online fixture for deterministic replay.
func ValidateOnline(ctx context.Context, entries []schema.URLMapEntry, ladder LadderConfig, policy schema.CitationsLadderPolicy, now time.Time) ([]schema.Citation, []schema.OnlineFixture) {
	var citations []schema.Citation
	var fixtures []schema.OnlineFixture

	for _, entry := range entries {
		if entry.HasUserinfo {
			citations = append(citations, citationFor(entry, schema.CitationInvalid, now, "url contains userinfo"))
			continue
		}
		c, fixture := validateOneOnline(ctx, entry, ladder, policy, now)
		citations = append(citations, c)
		fixtures = append(fixtures, fixture)
	}
	return SortCitations(citations), fixtures
}

func validateOneOnline(ctx context.Context, entry schema.URLMapEntry, ladder LadderConfig, policy schema.CitationsLadderPolicy, now time.Time) (schema.Citation, schema.OnlineFixture) {
	tiers := []struct {
		tier       Tier
		fetcher    Fetcher
		maxAttempt int
	}{
		{TierDirect, ladder.Direct, policy.DirectFetchMaxAttempts},
		{TierBrightData, ladder.BrightData, policy.BrightDataMaxAttempts},
		{TierApify, ladder.Apify, policy.ApifyMaxAttempts},
	}

	var lastErr error
	for _, t := range tiers {
		if t.fetcher == nil {
			continue
		}
		attempts := t.maxAttempt
		if attempts <= 0 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			result, err := t.fetcher.Fetch(ctx, entry.NormalizedURL, policy)
			if err == nil {
				status := classify(result)
				c := citationFor(entry, status, now, "")
				c.HTTPStatus = &result.HTTPStatus
				c.Title = result.Title
				c.Publisher = result.Publisher
				return c, schema.OnlineFixture{
					NormalizedURL: entry.NormalizedURL,
					Status:        status,
					HTTPStatus:    &result.HTTPStatus,
					Tier:          string(t.tier),
					RecordedAt:    now,
				}
			}
			lastErr = err
		}
	}

	notes := "all configured tiers exhausted"
	if lastErr != nil {
		notes = fmt.Sprintf("all configured tiers exhausted: %v", lastErr)
	}
	c := citationFor(entry, schema.CitationInvalid, now, notes)
	return c, schema.OnlineFixture{NormalizedURL: entry.NormalizedURL, Status: schema.CitationInvalid, Tier: "none", RecordedAt: now}
}

func classify(r FetchResult) schema.CitationStatus {
	if r.Blocked {
		return schema.CitationBlocked
	}
	if r.HTTPStatus >= 200 && r.HTTPStatus < 400 {
		return schema.CitationValid
	}
	return schema.CitationInvalid
}

// BackoffDelay computes the exponential backoff for attempt k (0-based)
// per spec section 4.7: backoff_initial_ms * multiplier^k, capped at
// backoff_max_ms.
func BackoffDelay(policy schema.CitationsLadderPolicy, attempt int) time.Duration {
	delay := float64(policy.BackoffInitialMs)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffMultiplier
	}
	if policy.BackoffMaxMs > 0 && delay > float64(policy.BackoffMaxMs) {
		delay = float64(policy.BackoffMaxMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// WriteOnlineFixtures writes the timestamped snapshot and refreshes the
// "latest" pointer used for deterministic offline replay.
func WriteOnlineFixtures(runRoot string, fixtures []schema.OnlineFixture, now time.Time) *errs.Error {
	ts := now.UTC().Format("20060102T150405Z")
	snapshotPath, we := store.WithinRoot(runRoot, filepath.Join("citations", "online-fixtures."+ts+".json"))
	if we != nil {
		return we
	}
	if e := store.AtomicWriteJSON(snapshotPath, fixtures); e != nil {
		return e
	}
	latestPath, we := store.WithinRoot(runRoot, filepath.Join("citations", "online-fixtures.latest.json"))
	if we != nil {
		return we
	}
	return store.AtomicWriteJSON(latestPath, fixtures)
}

// BuildBlockedQueue extracts the blocked citations into the operator
// queue artifacts (blocked-urls.json and, when non-empty, a markdown
// rendering), each entry requiring an explicit operator action.
func BuildBlockedQueue(runRoot string, citations []schema.Citation) *errs.Error {
	var blocked []schema.BlockedURLEntry
	for _, c := range citations {
		if c.Status != schema.CitationBlocked {
			continue
		}
		blocked = append(blocked, schema.BlockedURLEntry{
			CID:           c.CID,
			NormalizedURL: c.NormalizedURL,
			Reason:        c.Notes,
		})
	}
	blockedPath, we := store.WithinRoot(runRoot, filepath.Join("citations", "blocked-urls.json"))
	if we != nil {
		return we
	}
	if e := store.AtomicWriteJSON(blockedPath, blocked); e != nil {
		return e
	}
	if len(blocked) == 0 {
		return nil
	}
	var md string
	md = "# Blocked URL queue\n\n"
	for _, b := range blocked {
		md += fmt.Sprintf("- `%s` %s — %s (action: pending)\n", b.CID, b.NormalizedURL, b.Reason)
	}
	queuePath, we := store.WithinRoot(runRoot, filepath.Join("citations", "blocked-urls.queue.md"))
	if we != nil {
		return we
	}
	return store.AtomicWriteText(queuePath, []byte(md))
}
