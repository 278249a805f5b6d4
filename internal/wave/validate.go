package wave

import (
	"bufio"
	"strings"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
)

// deferredCodes are the contract violations spec section 4.5.3 names as
// deferring to a retry directive rather than failing the tick outright.
var deferredCodes = map[errs.Code]bool{
	errs.MissingRequiredSection: true,
	errs.TooManyWords:           true,
	errs.MalformedSources:       true,
	errs.TooManySources:        true,
}

// ValidationFailure is one contract violation found in an output.
type ValidationFailure struct {
	Code    errs.Code
	Message string
}

// Deferred reports whether f should defer to a retry directive rather
// than fail the tick immediately.
func (f ValidationFailure) Deferred() bool { return deferredCodes[f.Code] }

// ValidateContract checks markdown against a perspective's prompt
// contract: required sections present, word count within budget, a
// well-formed `## Sources` list within max_sources, and the caller's
// toolInvocations count within tool_budget. ExecuteEntry passes 0 here:
// neither the AgentDriver output nor the sidecar it writes carries a
// tool-usage count, so wave outputs never fail the tool-budget check.
func ValidateContract(markdown string, contract schema.PromptContract, toolInvocations int) []ValidationFailure {
	var failures []ValidationFailure

	for _, section := range contract.MustIncludeSections {
		if !hasHeading(markdown, section) {
			failures = append(failures, ValidationFailure{
				Code:    errs.MissingRequiredSection,
				Message: "missing required section: " + section,
			})
		}
	}

	words := len(strings.Fields(markdown))
	if contract.MaxWords > 0 && words > contract.MaxWords {
		failures = append(failures, ValidationFailure{
			Code:    errs.TooManyWords,
			Message: "output exceeds max_words",
		})
	}

	sources, malformed := parseSources(markdown)
	if malformed {
		failures = append(failures, ValidationFailure{
			Code:    errs.MalformedSources,
			Message: "Sources section is malformed",
		})
	} else if contract.MaxSources > 0 && len(sources) > contract.MaxSources {
		failures = append(failures, ValidationFailure{
			Code:    errs.TooManySources,
			Message: "output exceeds max_sources",
		})
	}

	if contract.ToolBudget > 0 && toolInvocations > contract.ToolBudget {
		failures = append(failures, ValidationFailure{
			Code:    errs.ToolBudgetExceeded,
			Message: "tool invocations exceed tool_budget",
		})
	}

	return failures
}

func hasHeading(markdown, heading string) bool {
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	want := strings.ToLower(strings.TrimSpace(heading))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}
		text := strings.ToLower(strings.TrimLeft(line, "# "))
		if text == want {
			return true
		}
	}
	return false
}

// parseSources extracts the bullet items under a "## Sources" heading.
// malformed reports true if any non-blank line under a Sources heading
// is not a non-empty "-" or "*" bullet; a Sources heading with no
// non-blank lines under it is not malformed.
func parseSources(markdown string) (sources []string, malformed bool) {
	lines := strings.Split(markdown, "\n")
	inSources := false
	found := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "#") {
			heading := strings.ToLower(strings.TrimLeft(lower, "# "))
			inSources = heading == "sources"
			continue
		}
		if !inSources || line == "" {
			continue
		}
		found = true
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "*") {
			malformed = true
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(line, "-*"))
		if item == "" {
			malformed = true
			continue
		}
		sources = append(sources, item)
	}
	if !found {
		return nil, false
	}
	return sources, malformed
}
