package app

import (
	"flakepin/internal/core"
)

// Inspect reports each input as declared. It never touches the network, so
// it shows what a resolve pass would have to discover.
func (s Service) Inspect(req InspectRequest) (InspectResult, error) {
	decl, slots, err := s.loadPlan(req.DeclarationPath)
	if err != nil {
		return InspectResult{}, err
	}
	entries := make([]InspectEntry, 0, len(slots))
	for _, slot := range slots {
		ref, err := core.ParseRef(slot.Locator)
		if err != nil {
			return InspectResult{}, slotError(slot, err)
		}
		entries = append(entries, InspectEntry{
			Name:      slot.Name,
			Locator:   slot.Locator,
			Defaulted: slot.Defaulted,
			Kind:      ref.Kind,
			State:     ref.State(),
			Policy:    slot.Policy,
		})
	}
	return InspectResult{ProjectName: decl.Project.Name, Entries: entries}, nil
}
