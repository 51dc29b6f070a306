package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soaringjerry/Praxis/internal/logger"
)

var allowedExtensions = map[AssetType][]string{
	AssetImage: {".png", ".jpg", ".jpeg", ".gif", ".webp"},
	AssetVideo: {".mp4", ".webm", ".ogg"},
	AssetModel: {".gltf", ".glb", ".fbx", ".obj"},
}

const defaultMimeType = "application/octet-stream"

type AssetService struct {
	core *core
	log  *logger.Logger
}

// AssetInput describes an uploaded file already written by the transport layer.
type AssetInput struct {
	Filename  string         `json:"original_filename"`
	Type      AssetType      `json:"type"`
	MimeType  string         `json:"mime_type"`
	SizeBytes int64          `json:"size_bytes"`
	Metadata  map[string]any `json:"metadata"`
}

// DeleteAssetResult lists the records whose references to the asset were cleared.
type DeleteAssetResult struct {
	ClearedSteps   []string  `json:"cleared_steps"`
	ClearedModules []string  `json:"cleared_modules"`
	Warnings       []Warning `json:"warnings"`
}

// AssetTypeForExt returns the asset type implied by a file extension, or AssetOther.
func AssetTypeForExt(ext string) AssetType {
	ext = strings.ToLower(ext)
	for t, exts := range allowedExtensions {
		for _, e := range exts {
			if e == ext {
				return t
			}
		}
	}
	return AssetOther
}

func validateAssetInput(in AssetInput, maxBytes int64) error {
	name := strings.TrimSpace(in.Filename)
	if name == "" {
		return NewFieldError("asset", "", "original_filename", "filename is required")
	}
	if !in.Type.Valid() {
		return NewFieldError("asset", "", "type", fmt.Sprintf("unknown asset type %q", in.Type))
	}
	if in.SizeBytes < 0 {
		return NewFieldError("asset", "", "size_bytes", "size must not be negative")
	}
	if maxBytes > 0 && in.SizeBytes > maxBytes {
		return NewFieldError("asset", "", "size_bytes", fmt.Sprintf("file exceeds %d bytes", maxBytes))
	}
	exts, restricted := allowedExtensions[in.Type]
	if !restricted {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if e == ext {
			return nil
		}
	}
	return NewFieldError("asset", "", "original_filename",
		fmt.Sprintf("extension %q is not allowed for %s assets (allowed: %s)", ext, in.Type, strings.Join(exts, ", ")))
}

func (s *AssetService) Register(ctx context.Context, in AssetInput) (*Asset, error) {
	if err := validateAssetInput(in, s.core.opts.AssetMaxBytes); err != nil {
		return nil, err
	}
	mime := strings.TrimSpace(in.MimeType)
	if mime == "" {
		mime = defaultMimeType
	}
	a := &Asset{
		ID:               newID(),
		Type:             in.Type,
		OriginalFilename: strings.TrimSpace(in.Filename),
		MimeType:         mime,
		SizeBytes:        in.SizeBytes,
		CreatedAt:        s.core.now(),
	}
	if in.Metadata != nil {
		a.Metadata, _ = cloneValue(in.Metadata).(map[string]any)
	}
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		return tx.InsertAsset(ctx, a)
	})
	if err != nil {
		s.log.Error("register asset", "filename", a.OriginalFilename, "error", err)
		return nil, fmt.Errorf("register asset: %w", err)
	}
	s.log.Info("asset registered", "asset_id", a.ID, "type", a.Type, "size_bytes", a.SizeBytes)
	return a, nil
}

func (s *AssetService) Get(ctx context.Context, id string) (*Asset, error) {
	a, err := s.core.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, NewNotFoundError("asset not found")
	}
	return a, nil
}

func (s *AssetService) List(ctx context.Context) ([]*Asset, error) {
	return s.core.store.ListAssets(ctx)
}

// Delete removes the asset and, in the same transaction, clears every step
// media reference, model placement and module thumbnail that pointed at it.
// Referencing records are kept. No module write runs while it does.
func (s *AssetService) Delete(ctx context.Context, id string) (*DeleteAssetResult, error) {
	res := &DeleteAssetResult{ClearedSteps: []string{}, ClearedModules: []string{}}
	unlock := s.core.locks.exclusive()
	defer unlock()
	err := s.core.store.Atomic(ctx, func(tx Tx) error {
		a, err := tx.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return NewNotFoundError("asset not found")
		}
		now := s.core.now()
		steps, err := tx.ListStepsReferencingAsset(ctx, id)
		if err != nil {
			return err
		}
		for _, st := range steps {
			if !clearAssetRefs(st, id) {
				continue
			}
			st.UpdatedAt = now
			if err := tx.UpdateStep(ctx, st); err != nil {
				return err
			}
			res.ClearedSteps = append(res.ClearedSteps, st.ID)
			res.Warnings = append(res.Warnings, Warning{
				Code:    WarningReferenceCleared,
				StepID:  st.ID,
				AssetID: id,
				Message: fmt.Sprintf("step %q no longer references asset %s", st.Title, id),
			})
		}
		modules, err := tx.ListModules(ctx)
		if err != nil {
			return err
		}
		for _, m := range modules {
			if m.ThumbnailAssetID != id {
				continue
			}
			m.ThumbnailAssetID = ""
			m.UpdatedAt = now
			if err := tx.UpdateModule(ctx, m); err != nil {
				return err
			}
			res.ClearedModules = append(res.ClearedModules, m.ID)
		}
		return tx.DeleteAsset(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(res.ClearedSteps)
	sort.Strings(res.ClearedModules)
	if len(res.ClearedSteps)+len(res.ClearedModules) > 0 {
		s.log.Warn("asset deleted with references cleared", "asset_id", id,
			"steps", len(res.ClearedSteps), "modules", len(res.ClearedModules))
	} else {
		s.log.Info("asset deleted", "asset_id", id)
	}
	cleared := append(append([]string{}, res.ClearedSteps...), res.ClearedModules...)
	s.core.events.Emit(Event{Kind: EventAssetDeleted, AssetID: id, Cleared: cleared})
	return res, nil
}

// clearAssetRefs nulls media pointing at assetID and blanks matching model
// placements. It reports whether anything changed.
func clearAssetRefs(st *Step, assetID string) bool {
	changed := false
	if st.Media != nil && st.Media.AssetID == assetID {
		st.Media = nil
		changed = true
	}
	for i := range st.Models {
		if st.Models[i].AssetID == assetID {
			st.Models[i].AssetID = ""
			st.Models[i].AnimationName = ""
			changed = true
		}
	}
	return changed
}
