package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/core"
	"flakepin/internal/types"
)

// Validate checks the declaration offline: every locator must parse, every
// tag regex must compile and follows must point at earlier inputs.
func (s Service) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	decl, slots, err := s.loadPlan(req.DeclarationPath)
	if err != nil {
		return ValidateResult{}, err
	}
	seen := map[string]struct{}{}
	for _, slot := range slots {
		if _, err := core.ParseRef(slot.Locator); err != nil {
			return ValidateResult{}, slotError(slot, err)
		}
		if slot.Policy.Kind == types.PolicyNewestTag {
			if _, err := regexp.Compile(slot.Policy.TagRegex); err != nil {
				return ValidateResult{}, errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("invalid tag_regex %q for %s", slot.Policy.TagRegex, slot.Name)).
					WithCause(err)
			}
		}
		if _, dup := seen[slot.Name]; dup {
			return ValidateResult{}, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg(fmt.Sprintf("input name %s is used twice", slot.Name))
		}
		for _, follow := range slot.Follows {
			if _, ok := seen[follow]; !ok {
				return ValidateResult{}, errbuilder.New().
					WithCode(errbuilder.CodeFailedPrecondition).
					WithMsg(fmt.Sprintf("input %s follows %s, which is not an earlier input", slot.Name, follow))
			}
		}
		seen[slot.Name] = struct{}{}
	}
	for name, dir := range decl.Clones {
		if strings.TrimSpace(dir) == "" {
			return ValidateResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("clone target for %s is empty", name))
		}
		if _, err := cloneSource(decl, name); err != nil {
			if errbuilder.CodeOf(err) != errbuilder.CodeFailedPrecondition {
				return ValidateResult{}, err
			}
			log.Ctx(ctx).Warn().Str("package", name).Msg("clone source is not pinned yet; run resolve first")
		}
	}
	hints := branchPathHints(slots)
	emitHints(hints)
	return ValidateResult{ProjectName: decl.Project.Name, InputCount: len(slots), Hints: hints}, nil
}

func (s Service) loadPlan(path string) (types.Declaration, []inputSlot, error) {
	declPath := strings.TrimSpace(path)
	if declPath == "" {
		return types.Declaration{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("declaration path is required")
	}
	if s.Declarations == nil {
		return types.Declaration{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("service is missing a declaration loader")
	}
	decl, err := s.Declarations.LoadDeclaration(declPath)
	if err != nil {
		return types.Declaration{}, nil, err
	}
	slots, err := buildPlan(decl)
	if err != nil {
		return types.Declaration{}, nil, err
	}
	return decl, slots, nil
}
