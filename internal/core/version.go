package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"
	debversion "github.com/knqyf263/go-deb-version"
)

// tagRank orders tags that parse with different schemes. A tag that reads as
// a PEP 440 version always sorts above one that only reads as a Debian
// version, which sorts above an unparseable one.
type tagRank int

const (
	tagRankRaw tagRank = iota
	tagRankDeb
	tagRankPep
)

// versionCache memoizes parsed tag versions so sorting does not reparse
// the same name on every comparison.
type versionCache struct {
	pep  map[string]pep440.Version
	deb  map[string]debversion.Version
	rank map[string]tagRank
}

func newVersionCache() *versionCache {
	return &versionCache{
		pep:  map[string]pep440.Version{},
		deb:  map[string]debversion.Version{},
		rank: map[string]tagRank{},
	}
}

// classify parses a tag once and remembers the richest scheme it fits.
func (c *versionCache) classify(tag string) tagRank {
	if rank, ok := c.rank[tag]; ok {
		return rank
	}
	rank := tagRankRaw
	if parsed, err := pep440.Parse(tag); err == nil {
		c.pep[tag] = parsed
		rank = tagRankPep
	} else if parsed, err := debversion.NewVersion(stripTagPrefix(tag)); err == nil {
		c.deb[tag] = parsed
		rank = tagRankDeb
	}
	c.rank[tag] = rank
	return rank
}

// compare returns -1, 0, or 1 comparing two tag names.
func (c *versionCache) compare(a string, b string) int {
	ra, rb := c.classify(a), c.classify(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case tagRankPep:
		if cmp := c.pep[a].Compare(c.pep[b]); cmp != 0 {
			return cmp
		}
	case tagRankDeb:
		if cmp := c.deb[a].Compare(c.deb[b]); cmp != 0 {
			return cmp
		}
	}
	return strings.Compare(a, b)
}

// stripTagPrefix drops a leading non-digit prefix such as "v" or
// "release-" so Debian version parsing sees the numeric part.
func stripTagPrefix(tag string) string {
	idx := strings.IndexFunc(tag, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if idx <= 0 {
		return tag
	}
	return tag[idx:]
}

// newestMatchingTag selects the highest version among tags matching
// pattern. The tag name, not the parsed version, is returned.
func newestMatchingTag(tags []string, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid tag regex %q", pattern)).
			WithCause(err)
	}
	var candidates []string
	for _, tag := range tags {
		if re.MatchString(tag) {
			candidates = append(candidates, tag)
		}
	}
	if len(candidates) == 0 {
		all := append([]string(nil), tags...)
		sort.Strings(all)
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("no tag matches regex %q; tags found: [%s]", pattern, strings.Join(all, ", ")))
	}
	cache := newVersionCache()
	sort.SliceStable(candidates, func(i, j int) bool {
		return cache.compare(candidates[i], candidates[j]) > 0
	})
	return candidates[0], nil
}
