// Package synthesis implements the summary-pack and final-synthesis
// writers (C11), per spec.md §4.8. Grounded on the teacher's
// fixture-or-generated dual-mode pattern in pkg/services (seed
// scenarios replay fixtures; live runs generate from driver output) and
// on internal/gates.SummaryBoundednessEvaluator for the size caps Gate D
// re-checks immediately after a summary pack build.
package synthesis

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// SummaryPackPath returns summaries/summary-pack.json's path.
func SummaryPackPath(runRoot string) string {
	return filepath.Join(runRoot, "summaries", "summary-pack.json")
}

// renderSummaryMD renders a minimal markdown body from an entry's key
// claims, used when the entry carries no fixture-supplied markdown.
func renderSummaryMD(entry schema.SummaryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", entry.PerspectiveID)
	for _, claim := range entry.KeyClaims {
		fmt.Fprintf(&b, "- %s", claim.Text)
		if len(claim.CitationCIDs) > 0 {
			for _, cid := range claim.CitationCIDs {
				fmt.Fprintf(&b, " [@%s]", cid)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildSummaryPack assembles summary-pack.json from the supplied
// per-perspective entries (fixture-provided or generated upstream),
// rejecting any entry whose size exceeds max_summary_kb and the whole
// pack if its total exceeds max_total_summary_kb. It also writes each
// entry's summaries/<pid>.md and summaries/<pid>.meta.json sidecars,
// per spec.md §6.4's file layout.
func BuildSummaryPack(runRoot string, entries []schema.SummaryEntry, limits schema.Limits, now time.Time) (*schema.SummaryPack, *errs.Error) {
	var total float64
	for i, entry := range entries {
		if limits.MaxSummaryKB > 0 && entry.SizeKB > float64(limits.MaxSummaryKB) {
			return nil, errs.New(errs.SchemaValidationFailed, "summary entry exceeds max_summary_kb",
				errs.D("perspective_id", entry.PerspectiveID, "size_kb", entry.SizeKB, "max_summary_kb", limits.MaxSummaryKB))
		}
		total += entry.SizeKB
		if !store.ValidPathSegment(entry.PerspectiveID) {
			return nil, errs.New(errs.PathTraversal, "perspective id is not safe as a path segment", errs.D("id", entry.PerspectiveID))
		}
		if entries[i].SourcePath == "" {
			entries[i].SourcePath = defaultSourcePath(runRoot, entry.PerspectiveID)
		}
	}
	if limits.MaxTotalSummaryKB > 0 && total > float64(limits.MaxTotalSummaryKB) {
		return nil, errs.New(errs.SchemaValidationFailed, "summary pack exceeds max_total_summary_kb",
			errs.D("total_size_kb", total, "max_total_summary_kb", limits.MaxTotalSummaryKB))
	}

	sorted := append([]schema.SummaryEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PerspectiveID < sorted[j].PerspectiveID })

	for _, entry := range sorted {
		md := entry.Markdown
		if strings.TrimSpace(md) == "" {
			md = renderSummaryMD(entry)
		}
		mdPath, we := store.WithinRoot(runRoot, filepath.Join("summaries", entry.PerspectiveID+".md"))
		if we != nil {
			return nil, we
		}
		if e := store.AtomicWriteText(mdPath, []byte(md)); e != nil {
			return nil, e
		}
		meta := schema.SummaryMeta{
			SchemaVersion: schema.SummaryMetaSchemaVersion,
			PerspectiveID: entry.PerspectiveID,
			SourcePath:    entry.SourcePath,
			Digest:        store.PromptDigest(md),
			SizeKB:        entry.SizeKB,
			GeneratedAt:   now,
		}
		metaPath, we := store.WithinRoot(runRoot, filepath.Join("summaries", entry.PerspectiveID+".meta.json"))
		if we != nil {
			return nil, we
		}
		if e := store.AtomicWriteJSON(metaPath, meta); e != nil {
			return nil, e
		}
	}

	pack := &schema.SummaryPack{
		SchemaVersion: schema.SummaryPackSchemaVersion,
		GeneratedAt:   now,
		TotalSizeKB:   total,
		Entries:       sorted,
	}
	packPath, we := store.WithinRoot(runRoot, filepath.Join("summaries", "summary-pack.json"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(packPath, pack); e != nil {
		return nil, e
	}
	return pack, nil
}

// defaultSourcePath locates the wave output a summary was derived from,
// preferring wave-2 (post-pivot) over wave-1 when both exist.
func defaultSourcePath(runRoot, perspectiveID string) string {
	wave2 := filepath.Join("wave-2", perspectiveID+".md")
	if store.Exists(filepath.Join(runRoot, wave2)) {
		return wave2
	}
	return filepath.Join("wave-1", perspectiveID+".md")
}

// SynthesisPath returns synthesis/final-synthesis.md's path.
func SynthesisPath(runRoot string) string {
	return filepath.Join(runRoot, "synthesis", "final-synthesis.md")
}

// SynthesisMetaPath returns the meta sidecar's path.
func SynthesisMetaPath(runRoot string) string {
	return filepath.Join(runRoot, "synthesis", "final-synthesis.meta.json")
}

var citationRefPattern = regexp.MustCompile(`\[@([A-Za-z0-9_-]+)\]`)

// ValidateSynthesis checks markdown for the required headings and at
// least one [@cid] reference whose cid is in validCIDs.
func ValidateSynthesis(markdown string, validCIDs map[string]bool) *errs.Error {
	for _, heading := range schema.RequiredSynthesisHeadings {
		if !hasHeading(markdown, heading) {
			return errs.New(errs.MissingRequiredSection, "final synthesis missing required heading", errs.D("heading", heading))
		}
	}
	refs := citationRefPattern.FindAllStringSubmatch(markdown, -1)
	if len(refs) == 0 {
		return errs.New(errs.UnknownCID, "final synthesis cites no [@cid] reference", nil)
	}
	for _, m := range refs {
		if validCIDs[m[1]] {
			return nil
		}
	}
	return errs.New(errs.UnknownCID, "no [@cid] reference in final synthesis resolves to a validated citation", nil)
}

func hasHeading(markdown, heading string) bool {
	want := strings.ToLower(strings.TrimSpace(heading))
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		text := strings.ToLower(strings.TrimLeft(trimmed, "# "))
		if text == want {
			return true
		}
	}
	return false
}

// WriteSynthesis validates and writes final-synthesis.md plus its meta
// sidecar, recording mode ("fixture" or "generated"), a content digest,
// and the generation timestamp.
func WriteSynthesis(runRoot, mode, markdown string, validCIDs map[string]bool, now time.Time) *errs.Error {
	if e := ValidateSynthesis(markdown, validCIDs); e != nil {
		return e
	}
	synthesisPath, we := store.WithinRoot(runRoot, filepath.Join("synthesis", "final-synthesis.md"))
	if we != nil {
		return we
	}
	if e := store.AtomicWriteText(synthesisPath, []byte(markdown)); e != nil {
		return e
	}
	meta := schema.SynthesisMeta{
		SchemaVersion: schema.SynthesisMetaSchemaVersion,
		Mode:          mode,
		Digest:        store.PromptDigest(markdown),
		GeneratedAt:   now,
	}
	metaPath, we := store.WithinRoot(runRoot, filepath.Join("synthesis", "final-synthesis.meta.json"))
	if we != nil {
		return we
	}
	return store.AtomicWriteJSON(metaPath, meta)
}

// RenderGeneratedSynthesis assembles a minimal synthesis document
// satisfying the required-heading and citation-reference invariants
// from a summary pack, for deployments that generate rather than
// fixture-replay the final synthesis.
func RenderGeneratedSynthesis(pack *schema.SummaryPack, citedCID string) string {
	var b strings.Builder
	b.WriteString("# Summary\n\n")
	for _, entry := range pack.Entries {
		fmt.Fprintf(&b, "- %s: %d key claim(s)\n", entry.PerspectiveID, len(entry.KeyClaims))
	}
	b.WriteString("\n# Key Findings\n\n")
	for _, entry := range pack.Entries {
		for _, claim := range entry.KeyClaims {
			fmt.Fprintf(&b, "- %s [@%s]\n", claim.Text, citedCID)
		}
	}
	b.WriteString("\n# Evidence\n\n")
	fmt.Fprintf(&b, "See [@%s] for supporting citations.\n", citedCID)
	b.WriteString("\n# Caveats\n\n")
	b.WriteString("Synthesis reflects only the perspectives and citations validated in this run.\n")
	return b.String()
}
