// Package memory provides an in-memory implementation of the persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Stage aliases domain.Stage for in-memory persistence operations.
	Stage = domain.Stage
	// Region aliases domain.Region.
	Region = domain.Region
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type regionKey struct {
	stageID int64
	row     int
	column  int
}

type memoryState struct {
	stages      map[int64]Stage
	regions     map[int64]Region
	coordinates map[regionKey]int64
	nextStage   int64
	nextRegion  int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Stages  []Stage  `json:"stages"`
	Regions []Region `json:"regions"`
}

func newMemoryState() memoryState {
	return memoryState{
		stages:      make(map[int64]Stage),
		regions:     make(map[int64]Region),
		coordinates: make(map[regionKey]int64),
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		stages:      make(map[int64]Stage, len(s.stages)),
		regions:     make(map[int64]Region, len(s.regions)),
		coordinates: make(map[regionKey]int64, len(s.coordinates)),
		nextStage:   s.nextStage,
		nextRegion:  s.nextRegion,
	}
	for k, v := range s.stages {
		cloned.stages[k] = v
	}
	for k, v := range s.regions {
		cloned.regions[k] = v
	}
	for k, v := range s.coordinates {
		cloned.coordinates[k] = v
	}
	return cloned
}

func keyOf(r Region) regionKey {
	return regionKey{stageID: r.StageID, row: r.Row, column: r.Column}
}

// Store provides an in-memory transactional store. Transactions operate on a
// cloned state and swap it in on commit, so a failed transaction leaves no trace.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the transaction clock, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// NowFunc returns the clock used to stamp transactions.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// ExportState clones the current store state, ordered by ID.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Stages:  make([]Stage, 0, len(s.state.stages)),
		Regions: make([]Region, 0, len(s.state.regions)),
	}
	for _, st := range s.state.stages {
		snap.Stages = append(snap.Stages, st)
	}
	for _, r := range s.state.regions {
		snap.Regions = append(snap.Regions, r)
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].ID < snap.Stages[j].ID })
	sort.Slice(snap.Regions, func(i, j int) bool { return snap.Regions[i].ID < snap.Regions[j].ID })
	return snap
}

// ImportState replaces the store state with the provided snapshot. Regions
// referencing unknown stages or duplicating a coordinate are dropped.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for _, st := range snapshot.Stages {
		state.stages[st.ID] = st
		if st.ID > state.nextStage {
			state.nextStage = st.ID
		}
	}
	for _, r := range snapshot.Regions {
		if _, ok := state.stages[r.StageID]; !ok {
			continue
		}
		if _, dup := state.coordinates[keyOf(r)]; dup {
			continue
		}
		state.regions[r.ID] = r
		state.coordinates[keyOf(r)] = r.ID
		if r.ID > state.nextRegion {
			state.nextRegion = r.ID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := transactionView{state: &tx.state}
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	result.Affected = len(tx.changes)
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(transactionView{state: &snapshot})
}

func (v transactionView) FindStage(id int64) (Stage, bool, error) {
	st, ok := v.state.stages[id]
	return st, ok, nil
}

func (v transactionView) ListStages() ([]Stage, error) {
	out := make([]Stage, 0, len(v.state.stages))
	for _, st := range v.state.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v transactionView) FindRegion(stageID int64, row, column int) (Region, bool, error) {
	id, ok := v.state.coordinates[regionKey{stageID: stageID, row: row, column: column}]
	if !ok {
		return Region{}, false, nil
	}
	return v.state.regions[id], true, nil
}

func (v transactionView) ListRegions(stageID int64) ([]Region, error) {
	return v.filterRegions(func(r Region) bool { return r.StageID == stageID }), nil
}

func (v transactionView) ListAllRegions() ([]Region, error) {
	return v.filterRegions(func(Region) bool { return true }), nil
}

func (v transactionView) ListRegionsInRect(stageID int64, rect domain.Rect) ([]Region, error) {
	return v.filterRegions(func(r Region) bool {
		return r.StageID == stageID && rect.Contains(r.Coordinate())
	}), nil
}

func (v transactionView) CountRegions(stageID int64) (int, error) {
	count := 0
	for k := range v.state.coordinates {
		if k.stageID == stageID {
			count++
		}
	}
	return count, nil
}

func (v transactionView) filterRegions(keep func(Region) bool) []Region {
	var out []Region
	for _, r := range v.state.regions {
		if keep(r) {
			out = append(out, r)
		}
	}
	sortRegions(out)
	return out
}

func sortRegions(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.StageID != b.StageID {
			return a.StageID < b.StageID
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Column < b.Column
	})
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) FindStage(id int64) (Stage, bool, error) { return tx.view().FindStage(id) }

func (tx *transaction) ListStages() ([]Stage, error) { return tx.view().ListStages() }

func (tx *transaction) FindRegion(stageID int64, row, column int) (Region, bool, error) {
	return tx.view().FindRegion(stageID, row, column)
}

func (tx *transaction) ListRegions(stageID int64) ([]Region, error) {
	return tx.view().ListRegions(stageID)
}

func (tx *transaction) ListAllRegions() ([]Region, error) { return tx.view().ListAllRegions() }

func (tx *transaction) ListRegionsInRect(stageID int64, rect domain.Rect) ([]Region, error) {
	return tx.view().ListRegionsInRect(stageID, rect)
}

func (tx *transaction) CountRegions(stageID int64) (int, error) {
	return tx.view().CountRegions(stageID)
}

// CreateStage stores a new stage record.
func (tx *transaction) CreateStage(st Stage) (Stage, error) {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return Stage{}, errors.New("stage requires a name")
	}
	tx.state.nextStage++
	st.ID = tx.state.nextStage
	st.CreatedAt = tx.now
	st.UpdatedAt = tx.now
	tx.state.stages[st.ID] = st
	tx.recordChange(Change{Entity: domain.EntityStage, Action: domain.ActionCreate, After: st})
	return st, nil
}

// UpdateStage mutates an existing stage.
func (tx *transaction) UpdateStage(id int64, mutator func(*Stage) error) (Stage, error) {
	current, ok := tx.state.stages[id]
	if !ok {
		return Stage{}, domain.NotFoundError{Entity: domain.EntityStage, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Stage{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = domain.NextUpdatedAt(before.UpdatedAt, tx.now)
	tx.state.stages[id] = current
	tx.recordChange(Change{Entity: domain.EntityStage, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateRegion inserts a region, enforcing coordinate uniqueness per stage.
func (tx *transaction) CreateRegion(r Region) (Region, error) {
	if _, ok := tx.state.stages[r.StageID]; !ok {
		return Region{}, domain.NotFoundError{Entity: domain.EntityStage, ID: r.StageID}
	}
	key := keyOf(r)
	if _, exists := tx.state.coordinates[key]; exists {
		return Region{}, domain.ConflictError{
			Entity: domain.EntityRegion,
			Key:    domain.RegionKey(r.StageID, r.Row, r.Column),
			Err:    errors.New("duplicate coordinate"),
		}
	}
	tx.state.nextRegion++
	r.ID = tx.state.nextRegion
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.regions[r.ID] = r
	tx.state.coordinates[key] = r.ID
	tx.recordChange(Change{Entity: domain.EntityRegion, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRegion mutates the payload of an existing region. The composite key
// and creation time are immutable.
func (tx *transaction) UpdateRegion(id int64, mutator func(*Region) error) (Region, error) {
	current, ok := tx.state.regions[id]
	if !ok {
		return Region{}, domain.NotFoundError{Entity: domain.EntityRegion, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Region{}, err
	}
	current.ID = id
	current.StageID = before.StageID
	current.Row = before.Row
	current.Column = before.Column
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = domain.NextUpdatedAt(before.UpdatedAt, tx.now)
	tx.state.regions[id] = current
	tx.recordChange(Change{Entity: domain.EntityRegion, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}
