package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/services"
)

// seedFile is the YAML layout of a first-run content import. Assets and
// steps carry local keys so that media, models and choice targets can refer
// to records that do not have ids yet.
type seedFile struct {
	Assets  []seedAsset  `yaml:"assets"`
	Modules []seedModule `yaml:"modules"`
}

type seedAsset struct {
	Key       string         `yaml:"key"`
	Filename  string         `yaml:"filename"`
	Type      string         `yaml:"type"`
	MimeType  string         `yaml:"mime_type"`
	SizeBytes int64          `yaml:"size_bytes"`
	Metadata  map[string]any `yaml:"metadata"`
}

type seedModule struct {
	Title                string     `yaml:"title"`
	Code                 string     `yaml:"code"`
	Description          string     `yaml:"description"`
	Mode                 string     `yaml:"mode"`
	EstimatedDurationMin int        `yaml:"estimated_duration_min"`
	Language             string     `yaml:"language"`
	Icon                 string     `yaml:"icon"`
	Tags                 []string   `yaml:"tags"`
	Thumbnail            string     `yaml:"thumbnail"`
	Publish              bool       `yaml:"publish"`
	Tasks                []seedTask `yaml:"tasks"`
}

type seedTask struct {
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Steps       []seedStep `yaml:"steps"`
}

type seedStep struct {
	Key             string           `yaml:"key"`
	Title           string           `yaml:"title"`
	Description     string           `yaml:"description"`
	InstructionType string           `yaml:"instruction_type"`
	Media           *seedMedia       `yaml:"media"`
	Models          []seedModel      `yaml:"models"`
	Interaction     *seedInteraction `yaml:"interaction"`
	Completion      *seedCompletion  `yaml:"completion"`
	Choices         []seedChoice     `yaml:"choices"`
}

type seedMedia struct {
	Type  string `yaml:"type"`
	Asset string `yaml:"asset"`
}

type seedVec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type seedModel struct {
	Asset     string   `yaml:"asset"`
	Animation string   `yaml:"animation"`
	Loop      bool     `yaml:"loop"`
	Position  seedVec3 `yaml:"position"`
	Rotation  seedVec3 `yaml:"rotation"`
	Scale     float64  `yaml:"scale"`
}

type seedInteraction struct {
	RequiredAction  string `yaml:"required_action"`
	InputMethod     string `yaml:"input_method"`
	Target          string `yaml:"target"`
	Hand            string `yaml:"hand"`
	AttemptsAllowed int    `yaml:"attempts_allowed"`
}

type seedCompletion struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

type seedChoice struct {
	Label string `yaml:"label"`
	GoTo  string `yaml:"go_to"`
}

// SeedResult counts what an import created.
type SeedResult struct {
	Assets    int
	Modules   int
	Steps     int
	Published int
}

func loadSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return &f, nil
}

// SeedIfEmpty imports the YAML document at path when the store holds no
// modules yet. A missing file is not an error.
func SeedIfEmpty(ctx context.Context, svc *services.Services, path string, log *logger.Logger) (*SeedResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	existing, err := svc.Modules.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}
	f, err := loadSeedFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("seed file not found", "path", path)
			return nil, nil
		}
		return nil, err
	}
	log.Info("first run detected, importing seed content", "path", path)
	track := &seedCreated{}
	res, err := importSeed(ctx, svc, f, track)
	if err != nil {
		if left := track.rollback(context.WithoutCancel(ctx), svc); len(left) > 0 {
			log.Error("seed import failed and left records behind; delete them to re-run the seed",
				"path", path, "records", strings.Join(left, ", "))
		} else {
			log.Warn("seed import failed, created records removed", "path", path, "error", err)
		}
		return nil, fmt.Errorf("import seed %s: %w", path, err)
	}
	log.Info("seed import completed", "modules", res.Modules, "steps", res.Steps, "assets", res.Assets, "published", res.Published)
	return res, nil
}

// seedCreated records what an import has written so a failed import can be
// undone. A half-imported store would otherwise stop SeedIfEmpty from ever
// running again.
type seedCreated struct {
	modules []string
	assets  []string
}

// rollback deletes the recorded modules and assets, newest first, and returns
// the ones it could not remove.
func (c *seedCreated) rollback(ctx context.Context, svc *services.Services) []string {
	var left []string
	for i := len(c.modules) - 1; i >= 0; i-- {
		if err := svc.Modules.Delete(ctx, c.modules[i]); err != nil && !services.IsNotFound(err) {
			left = append(left, "module "+c.modules[i])
		}
	}
	for i := len(c.assets) - 1; i >= 0; i-- {
		if _, err := svc.Assets.Delete(ctx, c.assets[i]); err != nil && !services.IsNotFound(err) {
			left = append(left, "asset "+c.assets[i])
		}
	}
	return left
}

func importSeed(ctx context.Context, svc *services.Services, f *seedFile, track *seedCreated) (*SeedResult, error) {
	res := &SeedResult{}
	assets := map[string]string{}
	for _, a := range f.Assets {
		asset, err := svc.Assets.Register(ctx, services.AssetInput{
			Filename:  a.Filename,
			Type:      services.AssetType(a.Type),
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
			Metadata:  a.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", a.Key, err)
		}
		track.assets = append(track.assets, asset.ID)
		if a.Key != "" {
			assets[a.Key] = asset.ID
		}
		res.Assets++
	}
	assetID := func(key string) (string, error) {
		id, ok := assets[key]
		if !ok {
			return "", fmt.Errorf("unknown asset key %q", key)
		}
		return id, nil
	}

	for _, sm := range f.Modules {
		in := services.ModuleInput{
			Title:                sm.Title,
			Code:                 sm.Code,
			Description:          sm.Description,
			Mode:                 services.Mode(sm.Mode),
			EstimatedDurationMin: sm.EstimatedDurationMin,
			Language:             sm.Language,
			Icon:                 sm.Icon,
			Tags:                 sm.Tags,
		}
		if sm.Thumbnail != "" {
			id, err := assetID(sm.Thumbnail)
			if err != nil {
				return nil, fmt.Errorf("module %q: %w", sm.Title, err)
			}
			in.ThumbnailAssetID = id
		}
		m, err := svc.Modules.Create(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", sm.Title, err)
		}
		track.modules = append(track.modules, m.ID)
		res.Modules++

		// Choices may point forward, so steps are created first and patched
		// once every key has an id.
		steps := map[string]string{}
		type pending struct {
			id   string
			seed seedStep
		}
		var created []pending
		for _, st := range sm.Tasks {
			task, err := svc.Tasks.Create(ctx, services.TaskInput{ModuleID: m.ID, Title: st.Title, Description: st.Description})
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", st.Title, err)
			}
			for _, ss := range st.Steps {
				step, err := svc.Steps.Create(ctx, task.ID, ss.Title)
				if err != nil {
					return nil, fmt.Errorf("step %q: %w", ss.Title, err)
				}
				if ss.Key != "" {
					steps[ss.Key] = step.ID
				}
				created = append(created, pending{id: step.ID, seed: ss})
				res.Steps++
			}
		}
		for _, p := range created {
			patch, err := seedStepPatch(p.seed, assetID, steps)
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", p.seed.Title, err)
			}
			if _, err := svc.Steps.Patch(ctx, p.id, patch); err != nil {
				return nil, fmt.Errorf("step %q: %w", p.seed.Title, err)
			}
		}

		if sm.Publish {
			if _, err := svc.Publish.Publish(ctx, m.ID); err != nil {
				return nil, fmt.Errorf("publish %q: %w", sm.Title, err)
			}
			res.Published++
		}
	}
	return res, nil
}

func seedStepPatch(ss seedStep, assetID func(string) (string, error), steps map[string]string) (services.StepPatch, error) {
	var p services.StepPatch
	if ss.Description != "" {
		p.Description = services.Some(ss.Description)
	}
	if ss.InstructionType != "" {
		p.InstructionType = services.Some(services.InstructionType(ss.InstructionType))
	}
	if ss.Media != nil {
		id, err := assetID(ss.Media.Asset)
		if err != nil {
			return p, err
		}
		p.Media = services.Some(&services.Media{Type: services.MediaType(ss.Media.Type), AssetID: id})
	}
	if len(ss.Models) > 0 {
		models := make([]services.ModelPlacement, 0, len(ss.Models))
		for _, sm := range ss.Models {
			id, err := assetID(sm.Asset)
			if err != nil {
				return p, err
			}
			scale := sm.Scale
			if scale == 0 {
				scale = 1
			}
			models = append(models, services.ModelPlacement{
				AssetID:       id,
				AnimationName: sm.Animation,
				AnimationLoop: sm.Loop,
				Position:      services.Vec3(sm.Position),
				Rotation:      services.Vec3(sm.Rotation),
				Scale:         scale,
			})
		}
		p.Models = services.Some(models)
	}
	if si := ss.Interaction; si != nil {
		p.Interaction = &services.InteractionPatch{
			RequiredAction:  services.Some(si.RequiredAction),
			InputMethod:     services.Some(si.InputMethod),
			Target:          services.Some(si.Target),
			Hand:            services.Some(services.Hand(si.Hand)),
			AttemptsAllowed: services.Some(si.AttemptsAllowed),
		}
	}
	if sc := ss.Completion; sc != nil {
		p.Completion = &services.CompletionPatch{
			Type:  services.Some(services.CompletionType(sc.Type)),
			Value: services.Some(sc.Value),
		}
	}
	if len(ss.Choices) > 0 {
		choices := make([]services.Choice, 0, len(ss.Choices))
		for _, sc := range ss.Choices {
			c := services.Choice{Label: sc.Label}
			if sc.GoTo != "" {
				id, ok := steps[sc.GoTo]
				if !ok {
					return p, fmt.Errorf("choice %q: unknown step key %q", sc.Label, sc.GoTo)
				}
				c.GoToStep = &id
			}
			choices = append(choices, c)
		}
		p.Choices = services.Some(choices)
	}
	return p, nil
}
