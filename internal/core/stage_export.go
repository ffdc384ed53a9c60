package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/internal/blob"
)

const (
	exportContentType = "application/json"
	exportKeyLayout   = "20060102T150405.000000000Z"

	// maxExportKeyAttempts bounds the suffixed keys tried when exports of one
	// stage share a timestamp.
	maxExportKeyAttempts = 100
)

// StageExport is the document written for one stage snapshot.
type StageExport struct {
	Stage      Stage     `json:"stage"`
	Regions    []Region  `json:"regions"`
	ExportedAt time.Time `json:"exported_at"`
}

// StageExporter snapshots stages with their regions into a blob store.
type StageExporter struct {
	store PersistentStore
	blobs blob.Store
	inst  instrumentation
}

// NewStageExporter wires an exporter reading from store and writing to blobs.
func NewStageExporter(store PersistentStore, blobs blob.Store, opts ...ServiceOption) *StageExporter {
	return &StageExporter{store: store, blobs: blobs, inst: newInstrumentation(store, opts)}
}

// ExportPrefix is the blob key prefix holding the exports of a stage.
func ExportPrefix(stageID int64) string {
	return "stages/" + strconv.FormatInt(stageID, 10) + "/"
}

// ExportKey builds the blob key for an export taken at ts.
func ExportKey(stageID int64, ts time.Time) string {
	return ExportPrefix(stageID) + ts.UTC().Format(exportKeyLayout) + ".json"
}

// exportKeyAttempt returns ExportKey for attempt 0 and a suffixed variant
// otherwise. Suffixed keys sort after the plain key and in attempt order.
func exportKeyAttempt(stageID int64, ts time.Time, attempt int) string {
	if attempt == 0 {
		return ExportKey(stageID, ts)
	}
	return fmt.Sprintf("%s%s_%02d.json", ExportPrefix(stageID), ts.UTC().Format(exportKeyLayout), attempt)
}

// Export reads the stage and its regions in a single view and writes them as
// one JSON document.
func (e *StageExporter) Export(ctx context.Context, stageID int64) (blob.Info, error) {
	var info blob.Info
	err := e.inst.observe(ctx, opExportStage, func(ctx context.Context) (int64, error) {
		doc := StageExport{ExportedAt: e.inst.now()}
		err := e.store.View(ctx, func(v TransactionView) error {
			stage, ok, err := v.FindStage(stageID)
			if err != nil {
				return err
			}
			if !ok {
				return NotFoundError{Entity: EntityStage, ID: stageID}
			}
			regions, err := v.ListRegions(stageID)
			if err != nil {
				return err
			}
			doc.Stage = stage
			doc.Regions = regions
			return nil
		})
		if err != nil {
			return stageID, err
		}
		if doc.Regions == nil {
			doc.Regions = []Region{}
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return stageID, fmt.Errorf("encode stage export: %w", err)
		}
		opts := blob.PutOptions{
			ContentType: exportContentType,
			Metadata:    map[string]string{"stage-id": strconv.FormatInt(stageID, 10)},
		}
		for attempt := 0; attempt < maxExportKeyAttempts; attempt++ {
			info, err = e.blobs.Put(ctx, exportKeyAttempt(stageID, doc.ExportedAt, attempt), bytes.NewReader(payload), opts)
			if !errors.Is(err, blob.ErrExists) {
				return stageID, err
			}
		}
		return stageID, err
	})
	if err != nil {
		return blob.Info{}, err
	}
	e.inst.opts.logger.Info("stage exported", "stage_id", stageID, "key", info.Key, "size", info.Size)
	return info, nil
}

// ListExports returns the exports of a stage oldest first. The stage itself
// must still exist.
func (e *StageExporter) ListExports(ctx context.Context, stageID int64) ([]blob.Info, error) {
	var infos []blob.Info
	err := e.inst.observe(ctx, opListExports, func(ctx context.Context) (int64, error) {
		err := e.store.View(ctx, func(v TransactionView) error {
			_, ok, err := v.FindStage(stageID)
			if err != nil {
				return err
			}
			if !ok {
				return NotFoundError{Entity: EntityStage, ID: stageID}
			}
			return nil
		})
		if err != nil {
			return stageID, err
		}
		infos, err = e.blobs.List(ctx, ExportPrefix(stageID))
		return stageID, err
	})
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []blob.Info{}
	}
	return infos, nil
}

// ReadExport decodes a previously written export.
func (e *StageExporter) ReadExport(ctx context.Context, key string) (StageExport, error) {
	var doc StageExport
	err := e.inst.observe(ctx, opReadExport, func(ctx context.Context) (int64, error) {
		if !strings.HasPrefix(key, "stages/") {
			return 0, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
		}
		_, rc, err := e.blobs.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		defer rc.Close()
		if err := json.NewDecoder(rc).Decode(&doc); err != nil {
			return 0, fmt.Errorf("decode stage export %s: %w", key, err)
		}
		return doc.Stage.ID, nil
	})
	if err != nil {
		return StageExport{}, err
	}
	return doc, nil
}
