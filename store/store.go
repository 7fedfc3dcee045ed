// Package store persists control-plane entities as JSON documents
// keyed by (kind, id). Both backends share one documents table so
// schema evolution is additive: new fields ride inside the body.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
	"github.com/ftahirops/qplane/model"
)

// Entity kinds.
const (
	KindFlowPriority      = "flow_priority"
	KindFlowCost          = "flow_cost"
	KindCostPolicy        = "cost_policy"
	KindDegradationLadder = "degradation_ladder"
	KindEscalation        = "escalation_history"
)

// ErrNotFound reports a missing (kind, id) pair.
var ErrNotFound = errors.New("store: not found")

// Doc is one stored document as returned by List.
type Doc struct {
	Kind      string
	ID        string
	Body      []byte
	UpdatedAt int64
}

// Store is the persistence surface. Put marshals v to JSON; Get
// unmarshals into v and returns ErrNotFound for missing documents.
type Store interface {
	Put(ctx context.Context, kind, id string, v any) error
	Get(ctx context.Context, kind, id string, v any) error
	List(ctx context.Context, kind string) ([]Doc, error)
	Delete(ctx context.Context, kind, id string) error
	Close() error
}

// Open dispatches on the configured driver. The sqlite backend keeps
// its database file under dataDir unless the DSN overrides it.
func Open(ctx context.Context, cfg config.StoreConfig, dataDir string, clock bus.Clock) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(dataDir, "qplane.db")
		}
		return OpenSQLite(ctx, path, clock)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, clock)
	}
	return nil, errors.New("store: unknown driver " + cfg.Driver)
}

// SaveEscalation appends one ladder transition to the history.
func SaveEscalation(ctx context.Context, s Store, rec model.EscalationRecord) error {
	return s.Put(ctx, KindEscalation, rec.ID, rec)
}

// Escalations loads the persisted transition history. Documents from
// older shapes that no longer parse are skipped.
func Escalations(ctx context.Context, s Store) ([]model.EscalationRecord, error) {
	docs, err := s.List(ctx, KindEscalation)
	if err != nil {
		return nil, err
	}
	out := make([]model.EscalationRecord, 0, len(docs))
	for _, d := range docs {
		var rec model.EscalationRecord
		if json.Unmarshal(d.Body, &rec) == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SaveFlowPriority upserts one flow's priority assignment.
func SaveFlowPriority(ctx context.Context, s Store, fp model.FlowPriority) error {
	return s.Put(ctx, KindFlowPriority, fp.FlowID, fp)
}

// FlowPriorities loads every persisted priority assignment.
func FlowPriorities(ctx context.Context, s Store) ([]model.FlowPriority, error) {
	docs, err := s.List(ctx, KindFlowPriority)
	if err != nil {
		return nil, err
	}
	out := make([]model.FlowPriority, 0, len(docs))
	for _, d := range docs {
		var fp model.FlowPriority
		if json.Unmarshal(d.Body, &fp) == nil {
			out = append(out, fp)
		}
	}
	return out, nil
}

// SaveFlowCost upserts one flow's cost breakdown.
func SaveFlowCost(ctx context.Context, s Store, fc model.FlowCostAnalysis) error {
	return s.Put(ctx, KindFlowCost, fc.FlowID, fc)
}

// SaveCostPolicy upserts one cost policy definition.
func SaveCostPolicy(ctx context.Context, s Store, cp model.CostPolicyRecord) error {
	return s.Put(ctx, KindCostPolicy, cp.Name, cp)
}

// CostPolicies loads every persisted cost policy definition.
func CostPolicies(ctx context.Context, s Store) ([]model.CostPolicyRecord, error) {
	docs, err := s.List(ctx, KindCostPolicy)
	if err != nil {
		return nil, err
	}
	out := make([]model.CostPolicyRecord, 0, len(docs))
	for _, d := range docs {
		var cp model.CostPolicyRecord
		if json.Unmarshal(d.Body, &cp) == nil {
			out = append(out, cp)
		}
	}
	return out, nil
}

// ladderPostureID keys the single ladder posture document.
const ladderPostureID = "current"

// SaveLadderPosture records the ladder's position for forensics. The
// plane re-derives its level from live burn on boot; this document is
// history, not recovered state.
func SaveLadderPosture(ctx context.Context, s Store, st model.LadderStatus) error {
	return s.Put(ctx, KindDegradationLadder, ladderPostureID, st)
}

// LadderPosture loads the last recorded ladder position.
func LadderPosture(ctx context.Context, s Store) (model.LadderStatus, error) {
	var st model.LadderStatus
	err := s.Get(ctx, KindDegradationLadder, ladderPostureID, &st)
	return st, err
}

// FlowCosts loads every persisted cost analysis.
func FlowCosts(ctx context.Context, s Store) ([]model.FlowCostAnalysis, error) {
	docs, err := s.List(ctx, KindFlowCost)
	if err != nil {
		return nil, err
	}
	out := make([]model.FlowCostAnalysis, 0, len(docs))
	for _, d := range docs {
		var fc model.FlowCostAnalysis
		if json.Unmarshal(d.Body, &fc) == nil {
			out = append(out, fc)
		}
	}
	return out, nil
}
