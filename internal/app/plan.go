package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"flakepin/internal/shared"
	"flakepin/internal/types"
)

const (
	defaultNixpkgs         = "github:NixOS/nixpkgs"
	defaultNixpkgsTagRegex = `^\d+\.\d+$`
	defaultFlakeUtils      = "github:numtide/flake-utils"
	defaultPoetry2nix      = "github:nix-community/poetry2nix"
	defaultDateIndex       = "github:DavHau/pypi-deps-db"
	defaultNixR            = "github:rstats-on-nix/nixpkgs"

	inputNixpkgs    = "nixpkgs"
	inputFlakeUtils = "flake-utils"
	inputPoetry2nix = "poetry2nix"
	inputDateIndex  = "pypi-deps-db"
	inputNixR       = "nixR"

	pythonInputPrefix = "pypkg-"
)

// inputSlot is one pinnable input of the declaration together with the
// place its pin is written back to.
type inputSlot struct {
	Name      string
	Path      []string
	Locator   string
	Fallback  string
	Defaulted bool
	Policy    types.ResolutionPolicy
	Flake     bool
	Follows   []string
	// FallbackPolicy pins the fallback locator. Pins written back from it
	// still match it once the url is set.
	FallbackPolicy types.ResolutionPolicy
	// Date selects the rev through the date index instead of the policy.
	Date string
}

func (s inputSlot) describe() string {
	if s.Fallback == "" {
		return fmt.Sprintf("%s (%s)", s.Name, s.Locator)
	}
	if s.Defaulted {
		return fmt.Sprintf("%s (default %s)", s.Name, s.Fallback)
	}
	return fmt.Sprintf("%s (%s, default %s)", s.Name, s.Locator, s.Fallback)
}

// buildPlan lists the input slots of decl in manifest order. Inputs are
// always planned after the inputs they follow.
func buildPlan(decl types.Declaration) ([]inputSlot, error) {
	var slots []inputSlot
	add := func(name string, path []string, spec types.InputSpec, fallback string, fallbackPolicy types.ResolutionPolicy, flake bool, follows ...string) error {
		slot, err := newSlot(name, path, spec, fallback, fallbackPolicy)
		if err != nil {
			return err
		}
		slot.Flake = flake
		slot.Follows = follows
		slots = append(slots, slot)
		return nil
	}

	if err := add(inputNixpkgs, []string{"nixpkgs", "url"}, decl.Nixpkgs.Input(), defaultNixpkgs,
		types.NewestTagPolicy(defaultNixpkgsTagRegex), true); err != nil {
		return nil, err
	}
	if err := add(inputFlakeUtils, []string{"flake_util", "url"}, decl.FlakeUtil, defaultFlakeUtils,
		types.NewestPolicy(), true, inputNixpkgs); err != nil {
		return nil, err
	}

	if python := decl.Python; python != nil {
		if strings.TrimSpace(python.Version) == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("python.version is required when [python] is present")
		}
		if err := add(inputPoetry2nix, []string{"python", "toolchain", "url"}, python.Toolchain, defaultPoetry2nix,
			types.NewestPolicy(), true, inputNixpkgs, inputFlakeUtils); err != nil {
			return nil, err
		}
		if python.EcosystemDate != "" {
			if _, err := time.Parse("2006-01-02", python.EcosystemDate); err != nil {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("python.ecosystem_date %q is not YYYY-MM-DD", python.EcosystemDate)).
					WithCause(err)
			}
		}
		if err := add(inputDateIndex, []string{"python", "date_index"}, types.InputSpec{URL: python.DateIndex}, defaultDateIndex,
			types.NewestPolicy(), false); err != nil {
			return nil, err
		}
		slots[len(slots)-1].Date = python.EcosystemDate

		for _, name := range sortedKeys(python.Packages) {
			pkg := python.Packages[name]
			hasURL := strings.TrimSpace(pkg.URL) != ""
			hasVersion := strings.TrimSpace(pkg.Version) != ""
			if hasURL && hasVersion {
				return nil, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("python package %s sets both version and url", name))
			}
			if !hasURL {
				continue
			}
			if err := add(pythonInputName(name), []string{"python", "packages", name, "url"}, pkg.Input(), "",
				types.NewestPolicy(), false); err != nil {
				return nil, err
			}
		}
	}

	if r := decl.R; r != nil {
		if err := add(inputNixR, []string{"r", "url"}, r.Input(), defaultNixR,
			types.NewestPolicy(), true, inputNixpkgs); err != nil {
			return nil, err
		}
	}

	for _, name := range sortedKeys(decl.Flakes) {
		flake := decl.Flakes[name]
		if err := add(name, []string{"flakes", name, "url"}, flake.Input(), "",
			types.NewestPolicy(), true, flake.Follows...); err != nil {
			return nil, err
		}
	}
	return slots, nil
}

func newSlot(name string, path []string, spec types.InputSpec, fallback string, fallbackPolicy types.ResolutionPolicy) (inputSlot, error) {
	slot := inputSlot{
		Name:           name,
		Path:           path,
		Locator:        strings.TrimSpace(spec.URL),
		Fallback:       fallback,
		FallbackPolicy: fallbackPolicy,
	}
	if slot.Locator == "" {
		if fallback == "" {
			return inputSlot{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("%s is required", strings.Join(path, ".")))
		}
		slot.Locator = fallback
		slot.Defaulted = true
	}
	policy, err := policyFor(spec, slot.Defaulted, fallbackPolicy)
	if err != nil {
		return inputSlot{}, errbuilder.New().
			WithCode(errbuilder.CodeOf(err)).
			WithMsg(fmt.Sprintf("invalid policy for %s", name)).
			WithCause(err)
	}
	slot.Policy = policy
	return slot, nil
}

// policyFor reads the declared policy. The slot's fallback policy only
// applies to the fallback locator.
func policyFor(spec types.InputSpec, defaulted bool, fallback types.ResolutionPolicy) (types.ResolutionPolicy, error) {
	regex := strings.TrimSpace(spec.TagRegex)
	switch types.PolicyKind(strings.TrimSpace(spec.Policy)) {
	case "":
		if regex != "" {
			return types.NewestTagPolicy(regex), nil
		}
		if defaulted {
			return fallback, nil
		}
		return types.NewestPolicy(), nil
	case types.PolicyNewest:
		if regex != "" {
			return types.ResolutionPolicy{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("tag_regex is only used with policy newest_tag")
		}
		return types.NewestPolicy(), nil
	case types.PolicyNewestTag:
		if regex == "" {
			return types.ResolutionPolicy{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("policy newest_tag requires tag_regex")
		}
		return types.NewestTagPolicy(regex), nil
	default:
		return types.ResolutionPolicy{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown policy %q (expected newest or newest_tag)", spec.Policy))
	}
}

func pythonInputName(pkg string) string {
	return pythonInputPrefix + shared.NormalizePipName(pkg)
}

func sortedKeys[K ~string, V any](input map[K]V) []K {
	keys := make([]K, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
