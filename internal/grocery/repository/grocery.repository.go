package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grocerylist/internal/grocery/model"
	"grocerylist/pkg/logger"
	"grocerylist/store"

	"github.com/lib/pq"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs the grocery statements against a pool or a transaction.
type Queries struct {
	q Querier
}

type GroceryRepository struct {
	*Queries
	DB *sql.DB
}

func NewGroceryRepository(db *sql.DB) *GroceryRepository {
	return &GroceryRepository{Queries: &Queries{q: db}, DB: db}
}

// WithTx runs fn inside a single transaction. It commits when fn returns
// nil and rolls back otherwise, re-panicking after rollback if fn panics.
func (r *GroceryRepository) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin transaction: %v", err)
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Sugar.Errorf("Failed to roll back transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit transaction: %v", err)
		return mapError(fmt.Errorf("commit transaction: %w", err), "transaction", 0)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *GroceryRepository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// --- Lists ---

type rowScanner interface {
	Scan(dest ...any) error
}

const listCols = `id, name, description, owner, stores, list_date, is_closed, created_at, updated_at`

func scanList(s rowScanner) (store.ListRecord, error) {
	var l store.ListRecord
	err := s.Scan(&l.ID, &l.Name, &l.Description, &l.Owner, &l.Stores, &l.ListDate, &l.IsClosed, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (q *Queries) InsertList(ctx context.Context, l store.ListRecord) (store.ListRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		INSERT INTO grocery_lists (name, description, owner, stores, list_date, is_closed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING `+listCols,
		l.Name, l.Description, l.Owner, l.Stores, l.ListDate, l.IsClosed)
	created, err := scanList(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to create list for owner %s: %v", l.Owner, err)
		return store.ListRecord{}, mapError(err, "list", 0)
	}
	return created, nil
}

// ListsByOwner returns the owner's lists newest first. A non-positive limit means no limit.
func (q *Queries) ListsByOwner(ctx context.Context, owner string, includeClosed bool, skip, limit int) ([]store.ListRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+listCols+` FROM grocery_lists
		WHERE owner = $1 AND ($2 OR is_closed = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		owner, includeClosed, nullLimit(limit), skip)
	if err != nil {
		logger.Sugar.Errorf("Failed to get lists for owner %s: %v", owner, err)
		return nil, mapError(err, "list", 0)
	}
	defer rows.Close()

	lists := []store.ListRecord{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// GetOwnedList returns the list only if it belongs to owner; a list owned by
// someone else is reported as model.ErrNotFound. With lock set the row is
// held FOR UPDATE until the surrounding transaction ends.
func (q *Queries) GetOwnedList(ctx context.Context, id int64, owner string, lock bool) (store.ListRecord, error) {
	query := `SELECT ` + listCols + ` FROM grocery_lists WHERE id = $1 AND owner = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	l, err := scanList(q.q.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get list %d: %v", id, err)
		}
		return store.ListRecord{}, mapError(err, "list", id)
	}
	return l, nil
}

func (q *Queries) UpdateList(ctx context.Context, l store.ListRecord) (store.ListRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		UPDATE grocery_lists
		SET name = $1, description = $2, stores = $3, list_date = $4, is_closed = $5, updated_at = NOW()
		WHERE id = $6 AND owner = $7
		RETURNING `+listCols,
		l.Name, l.Description, l.Stores, l.ListDate, l.IsClosed, l.ID, l.Owner)
	updated, err := scanList(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to update list %d: %v", l.ID, err)
		return store.ListRecord{}, mapError(err, "list", l.ID)
	}
	return updated, nil
}

// DeleteList removes the list; its items go with it through ON DELETE CASCADE.
func (q *Queries) DeleteList(ctx context.Context, id int64, owner string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM grocery_lists WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete list %d: %v", id, err)
		return mapError(err, "list", id)
	}
	return requireAffected(res, "list", id)
}

// --- Items ---

const itemCols = `id, grocery_list_id, name, quantity, unit, category, store, notes, purchased, created_at, updated_at`

const itemColsJoined = `i.id, i.grocery_list_id, i.name, i.quantity, i.unit, i.category, i.store, i.notes, i.purchased, i.created_at, i.updated_at`

func scanItem(s rowScanner) (store.ItemRecord, error) {
	var i store.ItemRecord
	err := s.Scan(&i.ID, &i.ListID, &i.Name, &i.Quantity, &i.Unit, &i.Category, &i.Store, &i.Notes, &i.Purchased, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func scanItems(rows *sql.Rows) ([]store.ItemRecord, error) {
	defer rows.Close()

	items := []store.ItemRecord{}
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (q *Queries) InsertItem(ctx context.Context, i store.ItemRecord) (store.ItemRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		INSERT INTO grocery_items (grocery_list_id, name, quantity, unit, category, store, notes, purchased, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING `+itemCols,
		i.ListID, i.Name, i.Quantity, i.Unit, i.Category, i.Store, i.Notes, i.Purchased)
	created, err := scanItem(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to create item in list %d: %v", i.ListID, err)
		return store.ItemRecord{}, mapError(err, "item", 0)
	}
	return created, nil
}

// ItemsByList returns unpurchased items first, then by creation. A
// non-positive limit means no limit.
func (q *Queries) ItemsByList(ctx context.Context, listID int64, skip, limit int) ([]store.ItemRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+itemCols+` FROM grocery_items
		WHERE grocery_list_id = $1
		ORDER BY purchased ASC, created_at ASC, id ASC
		LIMIT $2 OFFSET $3`,
		listID, nullLimit(limit), skip)
	if err != nil {
		logger.Sugar.Errorf("Failed to get items for list %d: %v", listID, err)
		return nil, mapError(err, "item", 0)
	}
	return scanItems(rows)
}

// GetOwnedItem returns the item only if its parent list belongs to owner.
// With lock set both the item and its list row are held FOR UPDATE.
func (q *Queries) GetOwnedItem(ctx context.Context, id int64, owner string, lock bool) (store.ItemRecord, error) {
	query := `
		SELECT ` + itemColsJoined + `
		FROM grocery_items i
		JOIN grocery_lists l ON l.id = i.grocery_list_id
		WHERE i.id = $1 AND l.owner = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	i, err := scanItem(q.q.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Sugar.Errorf("Failed to get item %d: %v", id, err)
		}
		return store.ItemRecord{}, mapError(err, "item", id)
	}
	return i, nil
}

func (q *Queries) UpdateItem(ctx context.Context, i store.ItemRecord) (store.ItemRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		UPDATE grocery_items
		SET name = $1, quantity = $2, unit = $3, category = $4, store = $5, notes = $6, purchased = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING `+itemCols,
		i.Name, i.Quantity, i.Unit, i.Category, i.Store, i.Notes, i.Purchased, i.ID)
	updated, err := scanItem(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to update item %d: %v", i.ID, err)
		return store.ItemRecord{}, mapError(err, "item", i.ID)
	}
	return updated, nil
}

func (q *Queries) SetPurchased(ctx context.Context, id int64, purchased bool) (store.ItemRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		UPDATE grocery_items SET purchased = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+itemCols,
		purchased, id)
	updated, err := scanItem(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to set purchased on item %d: %v", id, err)
		return store.ItemRecord{}, mapError(err, "item", id)
	}
	return updated, nil
}

func (q *Queries) DeleteItem(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM grocery_items WHERE id = $1`, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete item %d: %v", id, err)
		return mapError(err, "item", id)
	}
	return requireAffected(res, "item", id)
}

// ItemsInList returns the items among ids that belong to listID, locked FOR
// UPDATE. Items of any other list are never read or locked.
func (q *Queries) ItemsInList(ctx context.Context, listID int64, ids []int64) ([]store.ItemRecord, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+itemCols+` FROM grocery_items WHERE grocery_list_id = $1 AND id = ANY($2) ORDER BY id FOR UPDATE`,
		listID, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to get items %v of list %d: %v", ids, listID, err)
		return nil, mapError(err, "list", listID)
	}
	return scanItems(rows)
}

// MoveItems re-parents the items and resets their purchased flag.
func (q *Queries) MoveItems(ctx context.Context, ids []int64, targetListID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE grocery_items SET grocery_list_id = $1, purchased = FALSE, updated_at = NOW()
		WHERE id = ANY($2)`,
		targetListID, pq.Array(ids))
	if err != nil {
		logger.Sugar.Errorf("Failed to move items %v to list %d: %v", ids, targetListID, err)
		return 0, mapError(err, "list", targetListID)
	}
	return res.RowsAffected()
}

// PopularStores returns the stores most often named on the owner's items.
func (q *Queries) PopularStores(ctx context.Context, owner string, limit int) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT i.store FROM grocery_items i
		JOIN grocery_lists l ON l.id = i.grocery_list_id
		WHERE l.owner = $1 AND i.store IS NOT NULL AND i.store <> ''
		GROUP BY i.store
		ORDER BY COUNT(*) DESC, i.store ASC
		LIMIT $2`,
		owner, limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to get popular stores for %s: %v", owner, err)
		return nil, mapError(err, "store", 0)
	}
	defer rows.Close()

	stores := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

func nullLimit(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, model.ErrNotFound)
	}
	return nil
}
