package types

type VCSKind string

const (
	VCSKindGit       VCSKind = "git"
	VCSKindGitHub    VCSKind = "github"
	VCSKindMercurial VCSKind = "hg"
)

// RefState is the completeness of a partial reference: which of branch
// and rev were given by the user.
type RefState int

const (
	RefStateBare RefState = iota
	RefStateBranchOnly
	RefStateRevOnly
	RefStateFull
)

func (s RefState) String() string {
	switch s {
	case RefStateBare:
		return "bare"
	case RefStateBranchOnly:
		return "branch-only"
	case RefStateRevOnly:
		return "rev-only"
	case RefStateFull:
		return "full"
	default:
		return "unknown"
	}
}

type PolicyKind string

const (
	PolicyNewest    PolicyKind = "newest"
	PolicyNewestTag PolicyKind = "newest_tag"
)
