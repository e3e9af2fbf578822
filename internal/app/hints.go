package app

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"flakepin/internal/core"
	"flakepin/internal/types"
)

// defaultedInputHints returns one hint per input that fell back to its
// built-in locator, so the user can see what was pinned on their behalf.
func defaultedInputHints(slots []inputSlot) []string {
	var hints []string
	for _, slot := range slots {
		if !slot.Defaulted {
			continue
		}
		hints = append(hints, fmt.Sprintf(
			"hint: %s is not set; pinning default %s with policy %s",
			strings.Join(slot.Path, "."), slot.Fallback, slot.Policy,
		))
	}
	return hints
}

// branchPathHints flags github locators whose last two path segments parse
// as branch and rev although the rev is neither a commit nor a tag the
// input's regex would pick. Those are usually a branch name with a slash.
func branchPathHints(slots []inputSlot) []string {
	var hints []string
	for _, slot := range slots {
		if !core.AmbiguousBranchPath(slot.Locator) {
			continue
		}
		ref, err := core.ParseRef(slot.Locator)
		if err != nil {
			continue
		}
		if tagRegexMatches(slot.Policy, ref.Rev) || (slot.Fallback != "" && tagRegexMatches(slot.FallbackPolicy, ref.Rev)) {
			continue
		}
		hints = append(hints, fmt.Sprintf(
			"hint: %s reads as branch %q at rev %q; if %s/%s is one branch name, write github:%s/%s?ref=%s/%s",
			strings.Join(slot.Path, "."), ref.Branch, ref.Rev, ref.Branch, ref.Rev, ref.Owner, ref.Repo, ref.Branch, ref.Rev,
		))
	}
	return hints
}

func tagRegexMatches(policy types.ResolutionPolicy, tag string) bool {
	if policy.Kind != types.PolicyNewestTag {
		return false
	}
	re, err := regexp.Compile(policy.TagRegex)
	return err == nil && re.MatchString(tag)
}

// emitHints writes hint messages to stderr.
func emitHints(hints []string) {
	for _, h := range hints {
		fmt.Fprintln(os.Stderr, h)
	}
}
