package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/core"
	"flakepin/internal/ports"
	"flakepin/internal/shared"
	"flakepin/internal/types"
)

// pinOutcome is the result of pinning one slot. Commit is the commit id the
// manifest uses, which differs from Pinned.Rev when the rev is a tag.
type pinOutcome struct {
	Slot    inputSlot
	Pinned  types.PinnedRef
	Changed bool
	Commit  string
}

type pinner struct {
	resolver core.Resolver
	guard    core.ReproGuard
	tags     core.TagCommitLookup
	cache    *core.CachedLookup
	github   ports.GitHubAPIPort
	git      ports.RemoteRefsPort
	clock    func() time.Time
}

func (s Service) newPinner(ctx context.Context) (pinner, error) {
	if s.Git == nil || s.GitHub == nil || s.Archives == nil || s.Cache == nil {
		return pinner{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("service is missing remote or cache adapters")
	}
	store := s.Cache
	if s.Guard != nil {
		store = guardedStore{ctx: ctx, store: s.Cache, guard: s.Guard}
	}
	cache := core.NewCachedLookup(store)
	return pinner{
		resolver: core.NewResolver(s.Git, s.Mercurial),
		guard:    core.NewReproGuard(s.Archives, cache),
		tags:     core.NewTagCommitLookup(s.GitHub, cache),
		cache:    cache,
		github:   s.GitHub,
		git:      s.Git,
		clock:    s.Clock,
	}, nil
}

// pinAll pins every slot. With more than one job the slots are pinned
// concurrently and the first failure cancels the rest. Outcomes keep slot
// order either way.
func (p pinner) pinAll(ctx context.Context, slots []inputSlot, jobs int) ([]pinOutcome, error) {
	outcomes := make([]pinOutcome, len(slots))
	if jobs <= 1 || len(slots) <= 1 {
		for i, slot := range slots {
			outcome, err := p.pin(ctx, slot)
			if err != nil {
				return nil, err
			}
			outcomes[i] = outcome
		}
		return outcomes, nil
	}
	if len(slots) < jobs {
		jobs = len(slots)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var errMu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, jobs)
	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			outcome, err := p.pin(ctx, slot)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				errMu.Unlock()
				return
			}
			outcomes[i] = outcome
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return outcomes, nil
}

func (p pinner) pin(ctx context.Context, slot inputSlot) (pinOutcome, error) {
	ref, err := core.ParseRef(slot.Locator)
	if err != nil {
		return pinOutcome{}, slotError(slot, err)
	}
	fromDate := false
	if slot.Date != "" && ref.Rev == "" {
		if ref.Kind != types.VCSKindGitHub {
			return pinOutcome{}, slotError(slot, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("a date index must be a github: reference"))
		}
		lookup := core.NewDateCommitLookup(p.github, p.cache, ref.Owner, ref.Repo)
		if p.clock != nil {
			lookup.Now = p.clock
		}
		commit, err := lookup.CommitForDate(ctx, slot.Date)
		if err != nil {
			return pinOutcome{}, slotError(slot, err)
		}
		ref.Rev = commit
		fromDate = true
	}
	pinned, changed, err := p.resolver.Resolve(ctx, ref, slot.Policy)
	if err != nil {
		return pinOutcome{}, slotError(slot, err)
	}
	changed = changed || fromDate
	if changed && pinned.Kind == types.VCSKindGitHub {
		verdict, err := p.guard.Check(ctx, pinned.Owner, pinned.Repo, pinned.Rev)
		if err != nil {
			return pinOutcome{}, slotError(slot, err)
		}
		if verdict.NeedsGit {
			converted := pinned.AsGit()
			log.Ctx(ctx).Warn().
				Str("input", slot.Name).
				Str("from", pinned.String()).
				Str("to", converted.String()).
				Msg("archive is not reproducible (export-subst), pinning through git instead")
			pinned = converted
		}
	}
	commit, err := p.commitFor(ctx, pinned)
	if err != nil {
		return pinOutcome{}, slotError(slot, err)
	}
	return pinOutcome{Slot: slot, Pinned: pinned, Changed: changed, Commit: commit}, nil
}

// commitFor maps a tag rev to the commit it points at; commit revs pass
// through.
func (p pinner) commitFor(ctx context.Context, pinned types.PinnedRef) (string, error) {
	if pinned.Kind == types.VCSKindMercurial || shared.IsCommitHash(pinned.Rev) {
		return pinned.Rev, nil
	}
	if pinned.Kind == types.VCSKindGitHub {
		return p.tags.CommitForTag(ctx, pinned.Owner, pinned.Repo, pinned.Rev)
	}
	tagRef := "refs/tags/" + pinned.Rev
	refs, err := p.git.ListRefs(ctx, pinned.URL, tagRef)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to look up tag %q of %s", pinned.Rev, pinned.URL)).
			WithCause(err)
	}
	commit := ""
	for _, ref := range refs {
		switch ref.Name {
		case tagRef + "^{}":
			return ref.Hash, nil
		case tagRef:
			commit = ref.Hash
		}
	}
	if commit == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("rev %q of %s is neither a commit nor a tag", pinned.Rev, pinned.URL))
	}
	return commit, nil
}

func slotError(slot inputSlot, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeOf(err)).
		WithMsg(fmt.Sprintf("failed to pin %s", slot.describe())).
		WithCause(err)
}

// guardedStore saves cache files inside the critical section so an
// interrupt cannot leave a key space half written.
type guardedStore struct {
	ctx   context.Context
	store ports.CacheStorePort
	guard ports.CriticalSectionPort
}

func (g guardedStore) Load(keySpace string) (map[string]string, error) {
	return g.store.Load(keySpace)
}

func (g guardedStore) Save(keySpace string, entries map[string]string) error {
	return g.guard.Run(g.ctx, "cache write "+keySpace, func() error {
		return g.store.Save(keySpace, entries)
	})
}

var _ ports.CacheStorePort = guardedStore{}
