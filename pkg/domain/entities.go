// Package domain defines the persistent stage and region entities, the store
// contract, and the rule evaluation primitives used by stagebuilder.
package domain

import "time"

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Supported entity type identifiers used in Change records and error values.
const (
	// EntityStage identifies a stage record.
	EntityStage EntityType = "stage"
	// EntityRegion identifies a region record.
	EntityRegion EntityType = "region"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// TimestampResolution is the precision at which stores persist CreatedAt and
// UpdatedAt.
const TimestampResolution = time.Microsecond

// NextUpdatedAt returns the UpdatedAt value for a record last touched at prev.
// When the clock has not moved past prev, prev advanced by one resolution step
// is returned, so successive updates of one record are strictly ordered.
func NextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(TimestampResolution)
}

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage is a named grid of regions. The row and column extents describe the
// bounding box of every region the stage owns.
type Stage struct {
	Base
	Name      string `json:"name"`
	MinRow    int    `json:"min_row"`
	MaxRow    int    `json:"max_row"`
	MinColumn int    `json:"min_column"`
	MaxColumn int    `json:"max_column"`
}

// Contains reports whether the coordinate lies inside the stage bounds.
func (s Stage) Contains(row, column int) bool {
	return row >= s.MinRow && row <= s.MaxRow && column >= s.MinColumn && column <= s.MaxColumn
}

// Expand grows the bounds so they include (row, column) and reports whether
// anything changed. When first is set the stage owns no regions yet and the
// bounds collapse onto the coordinate instead of being compared.
func (s *Stage) Expand(row, column int, first bool) bool {
	if first {
		changed := s.MinRow != row || s.MaxRow != row || s.MinColumn != column || s.MaxColumn != column
		s.MinRow, s.MaxRow = row, row
		s.MinColumn, s.MaxColumn = column, column
		return changed
	}
	changed := false
	if row < s.MinRow {
		s.MinRow = row
		changed = true
	}
	if row > s.MaxRow {
		s.MaxRow = row
		changed = true
	}
	if column < s.MinColumn {
		s.MinColumn = column
		changed = true
	}
	if column > s.MaxColumn {
		s.MaxColumn = column
		changed = true
	}
	return changed
}

// Region holds the opaque payload for one cell of a stage.
type Region struct {
	Base
	StageID int64  `json:"stage_id"`
	Row     int    `json:"row"`
	Column  int    `json:"column"`
	Data    string `json:"data"`
}

// Coordinate returns the region position within its stage.
func (r Region) Coordinate() Coordinate {
	return Coordinate{Row: r.Row, Column: r.Column}
}

// Coordinate addresses a cell within a stage grid.
type Coordinate struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// IsNeighbor reports whether other lies at Chebyshev distance exactly one,
// i.e. inside the 8-connected Moore neighborhood excluding the cell itself.
func (c Coordinate) IsNeighbor(other Coordinate) bool {
	dr := abs(c.Row - other.Row)
	dc := abs(c.Column - other.Column)
	return dr <= 1 && dc <= 1 && (dr != 0 || dc != 0)
}

// Neighbors lists the eight Moore neighborhood coordinates in row-major order.
func (c Coordinate) Neighbors() []Coordinate {
	out := make([]Coordinate, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			out = append(out, Coordinate{Row: c.Row + dr, Column: c.Column + dc})
		}
	}
	return out
}

// Rect is an inclusive rectangle of coordinates.
type Rect struct {
	MinRow    int
	MaxRow    int
	MinColumn int
	MaxColumn int
}

// Around returns the rectangle covering the coordinate and its neighbors.
func (c Coordinate) Around() Rect {
	return Rect{MinRow: c.Row - 1, MaxRow: c.Row + 1, MinColumn: c.Column - 1, MaxColumn: c.Column + 1}
}

// Contains reports whether the coordinate lies inside the rectangle.
func (r Rect) Contains(c Coordinate) bool {
	return c.Row >= r.MinRow && c.Row <= r.MaxRow && c.Column >= r.MinColumn && c.Column <= r.MaxColumn
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine together with the number
// of changes a committed transaction applied.
type Result struct {
	Violations []Violation
	Affected   int
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
