package types

// ResolutionPolicy decides how a missing rev is chosen. It is bound to a
// single resolution call, never stored on the reference.
type ResolutionPolicy struct {
	Kind     PolicyKind
	TagRegex string
}

func NewestPolicy() ResolutionPolicy {
	return ResolutionPolicy{Kind: PolicyNewest}
}

func NewestTagPolicy(regex string) ResolutionPolicy {
	return ResolutionPolicy{Kind: PolicyNewestTag, TagRegex: regex}
}

func (p ResolutionPolicy) String() string {
	if p.Kind == PolicyNewestTag {
		return string(p.Kind) + "(" + p.TagRegex + ")"
	}
	return string(PolicyNewest)
}
