package services

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// fieldErrors accumulates validation failures for one entity.
type fieldErrors struct {
	entity  string
	id      string
	details []FieldError
}

func (f *fieldErrors) add(field, format string, args ...any) {
	f.details = append(f.details, FieldError{
		Entity:  f.entity,
		ID:      f.id,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (f *fieldErrors) err() error {
	if len(f.details) == 0 {
		return nil
	}
	if len(f.details) == 1 {
		d := f.details[0]
		return NewValidationError(fmt.Sprintf("%s.%s: %s", d.Entity, d.Field, d.Message), f.details)
	}
	return NewValidationError(fmt.Sprintf("%s has %d invalid fields", f.entity, len(f.details)), f.details)
}

// normalizeChoices assigns missing choice ids and rewrites order_index to the
// list position.
func normalizeChoices(choices []Choice) []Choice {
	out := make([]Choice, len(choices))
	for i, c := range choices {
		c.Label = strings.TrimSpace(c.Label)
		if c.ID == "" {
			c.ID = newID()
		}
		if c.GoToStep != nil {
			target := strings.TrimSpace(*c.GoToStep)
			if target == "" {
				c.GoToStep = nil
			} else {
				c.GoToStep = &target
			}
		}
		c.OrderIndex = i + 1
		out[i] = c
	}
	return out
}

// validateStep checks a fully merged step against the enum, asset and branching
// rules. Asset and target lookups go through r so that they observe the same
// transaction as the write.
func validateStep(ctx context.Context, r Reader, st *Step) error {
	fe := &fieldErrors{entity: "step", id: st.ID}
	if strings.TrimSpace(st.Title) == "" {
		fe.add("title", "title is required")
	}
	if !st.InstructionType.Valid() {
		fe.add("instruction_type", "unknown instruction type %q", st.InstructionType)
	}
	if len(st.Choices) > 0 && st.InstructionType != InstructionQuestion {
		fe.add("choices", "choices are only allowed on question steps")
	}
	if !st.Interaction.Hand.Valid() {
		fe.add("interaction.hand", "unknown hand %q", st.Interaction.Hand)
	}
	if st.Interaction.AttemptsAllowed < 0 {
		fe.add("interaction.attempts_allowed", "must be >= 0")
	}
	if !st.Completion.Type.Valid() {
		fe.add("completion.type", "unknown completion type %q", st.Completion.Type)
	}

	if st.Media != nil {
		switch st.Media.Type {
		case MediaImage, MediaVideo:
			a, err := r.GetAsset(ctx, st.Media.AssetID)
			if err != nil {
				return err
			}
			switch {
			case a == nil:
				fe.add("media.asset_id", "asset %s not found", st.Media.AssetID)
			case string(a.Type) != string(st.Media.Type):
				fe.add("media.asset_id", "asset %s is %s, not %s", a.ID, a.Type, st.Media.Type)
			}
		default:
			fe.add("media.type", "unknown media type %q", st.Media.Type)
		}
	}

	for i, p := range st.Models {
		field := fmt.Sprintf("models[%d]", i)
		if p.Scale <= 0 || math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) {
			fe.add(field+".scale", "scale must be > 0")
		}
		if p.AssetID == "" {
			// cleared by an asset delete
			continue
		}
		a, err := r.GetAsset(ctx, p.AssetID)
		if err != nil {
			return err
		}
		if a == nil {
			fe.add(field+".asset_id", "asset %s not found", p.AssetID)
			continue
		}
		if a.Type != AssetModel {
			fe.add(field+".asset_id", "asset %s is %s, not model", a.ID, a.Type)
			continue
		}
		if clips := a.Animations(); p.AnimationName != "" && len(clips) > 0 && !hasClip(clips, p.AnimationName) {
			fe.add(field+".animation_name", "asset %s has no animation %q", a.ID, p.AnimationName)
		}
	}

	var inModule map[string]bool
	for i, c := range st.Choices {
		field := fmt.Sprintf("choices[%d]", i)
		if c.Label == "" {
			fe.add(field+".label", "label is required")
		}
		if c.GoToStep == nil {
			continue
		}
		if inModule == nil {
			steps, err := r.ListModuleSteps(ctx, st.ModuleID)
			if err != nil {
				return err
			}
			inModule = make(map[string]bool, len(steps))
			for _, s := range steps {
				inModule[s.ID] = true
			}
		}
		if !inModule[*c.GoToStep] {
			fe.add(field+".go_to_step", "step %s is not part of this module", *c.GoToStep)
		}
	}
	return fe.err()
}

func hasClip(clips []AnimationClip, name string) bool {
	for _, c := range clips {
		if c.Name == name {
			return true
		}
	}
	return false
}
