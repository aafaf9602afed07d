// Package archive implements PlanArchiver (SPEC_FULL section 2.9): exporting
// a built plan's phase list as JSON for offline inspection, useful when
// diagnosing why two ranks disagree about step indices (spec section 8's
// idempotence law). Grounded on pkg/kernel/blob_store.go's storage-backend
// interface and pkg/artifacts.Store's scheme-dispatched backend selection.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cobaltmesh/ucg/pkg/plan"
)

// PlanSnapshot is the JSON-serializable export of a plan, keyed by the
// signature it was cached under so two exports can be diffed to find where
// two ranks' plans diverge.
type PlanSnapshot struct {
	SignatureKey string      `json:"signature_key"`
	Algorithm    string      `json:"algorithm"`
	Collective   string      `json:"collective"`
	MyIndex      int         `json:"my_index"`
	Phases       []PhaseView `json:"phases"`
}

// PhaseView is the export shape of one plan.Phase, dropping internal-only
// fields (thresholds) that aren't useful for step-index diagnosis.
type PhaseView struct {
	Method     string `json:"method"`
	EPCount    int    `json:"ep_cnt"`
	Peers      []int  `json:"peers"`
	StepIndex  int    `json:"step_index"`
	IsSwap     bool   `json:"is_swap"`
	INCCapable bool   `json:"inc_capable"`
}

// Snapshot converts p into its exportable form.
func Snapshot(signatureKey string, p *plan.Plan) PlanSnapshot {
	phases := make([]PhaseView, len(p.Phases))
	for i, ph := range p.Phases {
		phases[i] = PhaseView{
			Method:     ph.Method.String(),
			EPCount:    ph.EPCount,
			Peers:      append([]int(nil), ph.Peers...),
			StepIndex:  ph.StepIndex,
			IsSwap:     ph.IsSwap,
			INCCapable: ph.INCCapable,
		}
	}
	return PlanSnapshot{
		SignatureKey: signatureKey,
		Algorithm:    p.Algorithm.String(),
		Collective:   p.Collective.String(),
		MyIndex:      p.MyIndex,
		Phases:       phases,
	}
}

// PlanArchiver persists a plan snapshot for offline inspection and retrieves
// it back by key.
type PlanArchiver interface {
	Archive(ctx context.Context, snap PlanSnapshot) (location string, err error)
	Retrieve(ctx context.Context, location string) (PlanSnapshot, error)
}

// objectKey derives the storage object key a snapshot is written under.
func objectKey(snap PlanSnapshot) string {
	return fmt.Sprintf("plans/%s.json", strings.ReplaceAll(snap.SignatureKey, "/", "_"))
}

func marshal(snap PlanSnapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func unmarshal(data []byte) (PlanSnapshot, error) {
	var snap PlanSnapshot
	err := json.Unmarshal(data, &snap)
	return snap, err
}

// NewFromURI selects a backend by URI scheme ("s3://bucket/prefix" or
// "gs://bucket/prefix"), the way pkg/artifacts.NewStoreFromEnv dispatches on
// ARTIFACT_STORAGE_TYPE in the teacher.
func NewFromURI(ctx context.Context, uri string) (PlanArchiver, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		return newS3ArchiverFromURI(ctx, uri)
	case strings.HasPrefix(uri, "gs://"):
		return newGCSArchiverFromURI(ctx, uri)
	default:
		return nil, fmt.Errorf("archive: unsupported URI scheme in %q (want s3:// or gs://)", uri)
	}
}
