package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/soaringjerry/Praxis/internal/services"
)

// memView implements services.Reader over one state. Every record handed out
// is a copy.
type memView struct {
	load func() *memState
}

func errNotStored(kind, id string) error {
	return fmt.Errorf("memory store: %s %s does not exist", kind, id)
}

func errOrderTaken(kind, parentID string, index int) error {
	return fmt.Errorf("memory store: %s order_index %d already used in %s", kind, index, parentID)
}

func sortSnapshots(list []*services.PublishedSnapshot) {
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
}

func (v memView) GetModule(_ context.Context, id string) (*services.Module, error) {
	return services.CloneModule(v.load().modules[id]), nil
}

func (v memView) FindModuleByTitle(_ context.Context, title string) (*services.Module, error) {
	key := services.TitleKey(title)
	for _, m := range v.load().modules {
		if services.TitleKey(m.Title) == key {
			return services.CloneModule(m), nil
		}
	}
	return nil, nil
}

func (v memView) FindModuleByCode(_ context.Context, code string) (*services.Module, error) {
	for _, m := range v.load().modules {
		if strings.EqualFold(m.Code, code) {
			return services.CloneModule(m), nil
		}
	}
	return nil, nil
}

func (v memView) ListModules(_ context.Context) ([]*services.Module, error) {
	st := v.load()
	out := make([]*services.Module, 0, len(st.modules))
	for _, m := range st.modules {
		out = append(out, services.CloneModule(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) GetTask(_ context.Context, id string) (*services.Task, error) {
	return services.CloneTask(v.load().tasks[id]), nil
}

func (v memView) ListTasks(_ context.Context, moduleID string) ([]*services.Task, error) {
	out := []*services.Task{}
	for _, t := range v.load().tasks {
		if t.ModuleID == moduleID {
			out = append(out, services.CloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (v memView) GetStep(_ context.Context, id string) (*services.Step, error) {
	return services.CloneStep(v.load().steps[id]), nil
}

func (v memView) ListSteps(_ context.Context, taskID string) ([]*services.Step, error) {
	out := []*services.Step{}
	for _, s := range v.load().steps {
		if s.TaskID == taskID {
			out = append(out, services.CloneStep(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// ListModuleSteps returns the module's steps in flattened document order.
func (v memView) ListModuleSteps(_ context.Context, moduleID string) ([]*services.Step, error) {
	st := v.load()
	out := []*services.Step{}
	for _, s := range st.steps {
		if s.ModuleID == moduleID {
			out = append(out, services.CloneStep(s))
		}
	}
	taskOrder := func(id string) int {
		if t, ok := st.tasks[id]; ok {
			return t.OrderIndex
		}
		return 0
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := taskOrder(out[i].TaskID), taskOrder(out[j].TaskID)
		if ti != tj {
			return ti < tj
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out, nil
}

func (v memView) ListStepsReferencingAsset(_ context.Context, assetID string) ([]*services.Step, error) {
	out := []*services.Step{}
	for _, s := range v.load().steps {
		if stepReferences(s, assetID) {
			out = append(out, services.CloneStep(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func stepReferences(s *services.Step, assetID string) bool {
	if s.Media != nil && s.Media.AssetID == assetID {
		return true
	}
	for _, p := range s.Models {
		if p.AssetID == assetID {
			return true
		}
	}
	return false
}

func (v memView) GetAsset(_ context.Context, id string) (*services.Asset, error) {
	return services.CloneAsset(v.load().assets[id]), nil
}

func (v memView) ListAssets(_ context.Context) ([]*services.Asset, error) {
	st := v.load()
	out := make([]*services.Asset, 0, len(st.assets))
	for _, a := range st.assets {
		out = append(out, services.CloneAsset(a))
	}
	sort.Slice(out, func(i, j int) bool { return st.assetSeq[out[i].ID] < st.assetSeq[out[j].ID] })
	return out, nil
}

func (v memView) GetSnapshot(_ context.Context, moduleID string, version int) (*services.PublishedSnapshot, error) {
	for _, p := range v.load().snapshots[moduleID] {
		if p.Version == version {
			return services.CloneSnapshot(p), nil
		}
	}
	return nil, nil
}

func (v memView) LatestVersion(_ context.Context, moduleID string) (int, error) {
	list := v.load().snapshots[moduleID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Version, nil
}

func (v memView) ListSnapshots(_ context.Context, moduleID string) ([]*services.PublishedSnapshot, error) {
	list := v.load().snapshots[moduleID]
	out := make([]*services.PublishedSnapshot, 0, len(list))
	for _, p := range list {
		out = append(out, services.CloneSnapshot(p))
	}
	return out, nil
}

func (v memView) ListLatestSnapshots(_ context.Context) ([]*services.PublishedSnapshot, error) {
	st := v.load()
	out := []*services.PublishedSnapshot{}
	for _, list := range st.snapshots {
		if len(list) > 0 {
			out = append(out, services.CloneSnapshot(list[len(list)-1]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}
