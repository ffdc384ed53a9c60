package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
)

const (
	stageColumns  = "id, name, min_row, max_row, min_column, max_column, created_at, updated_at"
	regionColumns = "id, stage_id, row_index, column_index, data, created_at, updated_at"
	regionOrder   = " ORDER BY stage_id, row_index, column_index"
)

type txn struct {
	ctx      context.Context
	tx       *sql.Tx
	store    *Store
	now      time.Time
	writable bool
	changes  []domain.Change
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

func scanStage(row rowScanner) (domain.Stage, error) {
	var st domain.Stage
	var created, updated int64
	if err := row.Scan(&st.ID, &st.Name, &st.MinRow, &st.MaxRow, &st.MinColumn, &st.MaxColumn, &created, &updated); err != nil {
		return domain.Stage{}, err
	}
	st.CreatedAt = fromMicros(created)
	st.UpdatedAt = fromMicros(updated)
	return st, nil
}

func scanRegion(row rowScanner) (domain.Region, error) {
	var r domain.Region
	var created, updated int64
	if err := row.Scan(&r.ID, &r.StageID, &r.Row, &r.Column, &r.Data, &created, &updated); err != nil {
		return domain.Region{}, err
	}
	r.CreatedAt = fromMicros(created)
	r.UpdatedAt = fromMicros(updated)
	return r, nil
}

func (t *txn) q(query string) string { return t.store.dialect.Rebind(query) }

func (t *txn) record(change domain.Change) {
	t.changes = append(t.changes, change)
}

func (t *txn) Now() time.Time { return t.now }

// FindStage reads a stage. Inside a write transaction on a dialect with
// RowLocks the row stays locked until commit, so bounds read here cannot be
// overwritten by a concurrent writer.
func (t *txn) FindStage(id int64) (domain.Stage, bool, error) {
	query := "SELECT " + stageColumns + " FROM stages WHERE id = ?"
	if t.writable && t.store.dialect.RowLocks {
		query += " FOR UPDATE"
	}
	row := t.tx.QueryRowContext(t.ctx, t.q(query), id)
	st, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stage{}, false, nil
	}
	if err != nil {
		return domain.Stage{}, false, t.store.classify("find stage", err)
	}
	return st, true, nil
}

func (t *txn) ListStages() ([]domain.Stage, error) {
	rows, err := t.tx.QueryContext(t.ctx, "SELECT "+stageColumns+" FROM stages ORDER BY id")
	if err != nil {
		return nil, t.store.classify("list stages", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, t.store.classify("scan stage", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, t.store.classify("iterate stages", err)
	}
	return out, nil
}

func (t *txn) FindRegion(stageID int64, row, column int) (domain.Region, bool, error) {
	query := t.q("SELECT " + regionColumns + " FROM regions WHERE stage_id = ? AND row_index = ? AND column_index = ?")
	r, err := scanRegion(t.tx.QueryRowContext(t.ctx, query, stageID, row, column))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Region{}, false, nil
	}
	if err != nil {
		return domain.Region{}, false, t.store.classify("find region", err)
	}
	return r, true, nil
}

func (t *txn) findRegionByID(id int64) (domain.Region, bool, error) {
	r, err := scanRegion(t.tx.QueryRowContext(t.ctx, t.q("SELECT "+regionColumns+" FROM regions WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Region{}, false, nil
	}
	if err != nil {
		return domain.Region{}, false, t.store.classify("find region", err)
	}
	return r, true, nil
}

func (t *txn) queryRegions(op, query string, args ...any) ([]domain.Region, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.q(query), args...)
	if err != nil {
		return nil, t.store.classify(op, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, t.store.classify(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, t.store.classify(op, err)
	}
	return out, nil
}

func (t *txn) ListRegions(stageID int64) ([]domain.Region, error) {
	return t.queryRegions("list regions", "SELECT "+regionColumns+" FROM regions WHERE stage_id = ?"+regionOrder, stageID)
}

func (t *txn) ListAllRegions() ([]domain.Region, error) {
	return t.queryRegions("list all regions", "SELECT "+regionColumns+" FROM regions"+regionOrder)
}

func (t *txn) ListRegionsInRect(stageID int64, rect domain.Rect) ([]domain.Region, error) {
	return t.queryRegions("list regions in rect",
		"SELECT "+regionColumns+" FROM regions WHERE stage_id = ? AND row_index BETWEEN ? AND ? AND column_index BETWEEN ? AND ?"+regionOrder,
		stageID, rect.MinRow, rect.MaxRow, rect.MinColumn, rect.MaxColumn)
}

func (t *txn) CountRegions(stageID int64) (int, error) {
	var count int
	if err := t.tx.QueryRowContext(t.ctx, t.q("SELECT COUNT(*) FROM regions WHERE stage_id = ?"), stageID).Scan(&count); err != nil {
		return 0, t.store.classify("count regions", err)
	}
	return count, nil
}

// CreateStage stores a new stage record.
func (t *txn) CreateStage(st domain.Stage) (domain.Stage, error) {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return domain.Stage{}, errors.New("stage requires a name")
	}
	st.CreatedAt = t.now
	st.UpdatedAt = t.now
	query := t.q(`INSERT INTO stages (name, min_row, max_row, min_column, max_column, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := t.tx.QueryRowContext(t.ctx, query,
		st.Name, st.MinRow, st.MaxRow, st.MinColumn, st.MaxColumn, toMicros(st.CreatedAt), toMicros(st.UpdatedAt),
	).Scan(&st.ID)
	if err != nil {
		return domain.Stage{}, t.store.classify("insert stage", err)
	}
	t.record(domain.Change{Entity: domain.EntityStage, Action: domain.ActionCreate, After: st})
	return st, nil
}

// UpdateStage mutates an existing stage.
func (t *txn) UpdateStage(id int64, mutator func(*domain.Stage) error) (domain.Stage, error) {
	current, ok, err := t.FindStage(id)
	if err != nil {
		return domain.Stage{}, err
	}
	if !ok {
		return domain.Stage{}, domain.NotFoundError{Entity: domain.EntityStage, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Stage{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = domain.NextUpdatedAt(before.UpdatedAt, t.now)
	query := t.q(`UPDATE stages SET name = ?, min_row = ?, max_row = ?, min_column = ?, max_column = ?, updated_at = ?
		WHERE id = ?`)
	res, err := t.tx.ExecContext(t.ctx, query,
		current.Name, current.MinRow, current.MaxRow, current.MinColumn, current.MaxColumn, toMicros(current.UpdatedAt), id)
	if err != nil {
		return domain.Stage{}, t.store.classify("update stage", err)
	}
	if err := expectRows(res, "update stage"); err != nil {
		return domain.Stage{}, err
	}
	t.record(domain.Change{Entity: domain.EntityStage, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateRegion inserts a region. The (stage_id, row_index, column_index)
// unique constraint surfaces concurrent inserts as ConflictError.
func (t *txn) CreateRegion(r domain.Region) (domain.Region, error) {
	if _, ok, err := t.FindStage(r.StageID); err != nil {
		return domain.Region{}, err
	} else if !ok {
		return domain.Region{}, domain.NotFoundError{Entity: domain.EntityStage, ID: r.StageID}
	}
	r.CreatedAt = t.now
	r.UpdatedAt = t.now
	query := t.q(`INSERT INTO regions (stage_id, row_index, column_index, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := t.tx.QueryRowContext(t.ctx, query,
		r.StageID, r.Row, r.Column, r.Data, toMicros(r.CreatedAt), toMicros(r.UpdatedAt),
	).Scan(&r.ID)
	if err != nil {
		if t.store.dialect.uniqueViolation(err) {
			return domain.Region{}, domain.ConflictError{
				Entity: domain.EntityRegion,
				Key:    domain.RegionKey(r.StageID, r.Row, r.Column),
				Err:    err,
			}
		}
		return domain.Region{}, t.store.classify("insert region", err)
	}
	t.record(domain.Change{Entity: domain.EntityRegion, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRegion mutates the payload of an existing region. The composite key
// and creation time are immutable.
func (t *txn) UpdateRegion(id int64, mutator func(*domain.Region) error) (domain.Region, error) {
	current, ok, err := t.findRegionByID(id)
	if err != nil {
		return domain.Region{}, err
	}
	if !ok {
		return domain.Region{}, domain.NotFoundError{Entity: domain.EntityRegion, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Region{}, err
	}
	current.ID = id
	current.StageID = before.StageID
	current.Row = before.Row
	current.Column = before.Column
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = domain.NextUpdatedAt(before.UpdatedAt, t.now)
	res, err := t.tx.ExecContext(t.ctx, t.q("UPDATE regions SET data = ?, updated_at = ? WHERE id = ?"),
		current.Data, toMicros(current.UpdatedAt), id)
	if err != nil {
		return domain.Region{}, t.store.classify("update region", err)
	}
	if err := expectRows(res, "update region"); err != nil {
		return domain.Region{}, err
	}
	t.record(domain.Change{Entity: domain.EntityRegion, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.PersistenceError{Op: op, Err: err}
	}
	if n == 0 {
		return domain.PersistenceError{Op: op}
	}
	return nil
}
