package core

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
)

const (
	dateLayout = "2006-01-02"

	// DefaultDaysPerPage is the starting estimate of how many days one page
	// of the commit listing spans. It only seeds the search.
	DefaultDaysPerPage = 35

	defaultDatePageBudget = 200
)

// DefaultDateIndexStart is the first day the default ecosystem index has a
// commit for.
var DefaultDateIndexStart = time.Date(2020, time.April, 22, 0, 0, 0, 0, time.UTC)

// DateCommitLookup maps a calendar day to the newest commit of an index
// repository made on that day.
type DateCommitLookup struct {
	API         ports.GitHubAPIPort
	Cache       *CachedLookup
	Owner       string
	Repo        string
	Start       time.Time
	DaysPerPage int
	PageBudget  int
	Now         func() time.Time
}

func NewDateCommitLookup(api ports.GitHubAPIPort, cache *CachedLookup, owner string, repo string) DateCommitLookup {
	return DateCommitLookup{
		API:         api,
		Cache:       cache,
		Owner:       owner,
		Repo:        repo,
		Start:       DefaultDateIndexStart,
		DaysPerPage: DefaultDaysPerPage,
		PageBudget:  defaultDatePageBudget,
		Now:         time.Now,
	}
}

func (l DateCommitLookup) CommitForDate(ctx context.Context, date string) (string, error) {
	target, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date)).
			WithCause(err)
	}
	today := l.today()
	if target.Before(l.Start) || target.After(today) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("date %s is outside the supported range %s..%s of %s/%s",
				date, l.Start.Format(dateLayout), today.Format(dateLayout), l.Owner, l.Repo))
	}
	if l.API == nil || l.Cache == nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("date lookup requires api and cache")
	}
	key := target.Format(dateLayout)
	keySpace := fmt.Sprintf("date-index-%s-%s", l.Owner, l.Repo)
	return l.Cache.Fetch(ctx, keySpace, key, func(ctx context.Context) (map[string]string, error) {
		return l.search(ctx, target, today)
	})
}

// dateWalk accumulates what the search has seen. newestDay records, per
// non-empty page, the most recent day on it.
type dateWalk struct {
	found     map[string]string
	stamps    map[string]time.Time
	visited   map[int]bool
	newestDay map[int]string
}

// openDay reports whether day is the newest day of a page whose more recent
// neighbour was never fetched, so a newer commit of that day may be missing.
func (w *dateWalk) openDay(day string) bool {
	for page, newest := range w.newestDay {
		if newest == day && page > 1 && !w.visited[page-1] {
			return true
		}
	}
	return false
}

// settled drops open days. The cache never overwrites a day, so only days
// whose newest commit is certain may be persisted.
func (w *dateWalk) settled() map[string]string {
	out := make(map[string]string, len(w.found))
	for day, sha := range w.found {
		if !w.openDay(day) {
			out[day] = sha
		}
	}
	return out
}

// search starts at the page the target is estimated to live on and walks one
// page at a time toward it. Commits are listed newest first, so lower pages
// are more recent.
func (l DateCommitLookup) search(ctx context.Context, target time.Time, today time.Time) (map[string]string, error) {
	w := &dateWalk{
		found:     map[string]string{},
		stamps:    map[string]time.Time{},
		visited:   map[int]bool{},
		newestDay: map[int]string{},
	}
	err := l.walk(ctx, w, target, today)
	return w.settled(), err
}

func (l DateCommitLookup) walk(ctx context.Context, w *dateWalk, target time.Time, today time.Time) error {
	key := target.Format(dateLayout)

	perPage := l.DaysPerPage
	if perPage <= 0 {
		perPage = DefaultDaysPerPage
	}
	budget := l.PageBudget
	if budget <= 0 {
		budget = defaultDatePageBudget
	}
	elapsedDays := int(today.Sub(target).Hours() / 24)
	page := max(1, elapsedDays/perPage)

	for step := 0; step < budget; step++ {
		if w.visited[page] {
			return l.searchError(key, fmt.Sprintf("search revisited page %d", page))
		}
		w.visited[page] = true
		commits, err := l.API.ListCommitsPage(ctx, l.Owner, l.Repo, page)
		if err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to list commits of %s/%s (page %d) while looking for %s", l.Owner, l.Repo, page, key)).
				WithCause(err)
		}
		log.Ctx(ctx).Debug().Int("page", page).Int("commits", len(commits)).Str("date", key).Msg("date index page")
		if len(commits) == 0 {
			// estimate overshot the history
			page--
			if page < 1 {
				return l.searchError(key, "commit listing is empty")
			}
			continue
		}
		var newest, oldest string
		for _, commit := range commits {
			stamp, err := time.Parse(time.RFC3339, commit.Date)
			if err != nil {
				return errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg(fmt.Sprintf("malformed commit date %q in %s/%s", commit.Date, l.Owner, l.Repo)).
					WithCause(err)
			}
			stamp = stamp.UTC()
			day := stamp.Format(dateLayout)
			if prev, ok := w.stamps[day]; !ok || stamp.After(prev) {
				w.stamps[day] = stamp
				w.found[day] = commit.SHA
			}
			if newest == "" || day > newest {
				newest = day
			}
			if oldest == "" || day < oldest {
				oldest = day
			}
		}
		w.newestDay[page] = newest
		if _, ok := w.found[key]; ok {
			if !w.openDay(key) {
				return nil
			}
			// the day may continue on the more recent page
			page--
			continue
		}
		switch {
		case newest < key:
			page--
			if page < 1 {
				return l.searchError(key, "arrived at latest entry")
			}
		case oldest > key:
			page++
		default:
			// the page spans the day but nothing was committed on it
			return nil
		}
	}
	return l.searchError(key, fmt.Sprintf("gave up after %d pages", budget))
}

func (l DateCommitLookup) searchError(key string, reason string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("no commit for %s in %s/%s: %s", key, l.Owner, l.Repo, reason))
}

func (l DateCommitLookup) today() time.Time {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return now().UTC().Truncate(24 * time.Hour)
}
