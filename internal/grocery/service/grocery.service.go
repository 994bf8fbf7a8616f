package service

import (
	"context"
	"encoding/json"

	"grocerylist/internal/grocery/model"
	"grocerylist/internal/grocery/repository"
	"grocerylist/pkg/logger"
	"grocerylist/socket"
	"grocerylist/store"
)

const (
	DefaultPageLimit      = 100
	MaxPageLimit          = 500
	DefaultPopularStores  = 5
	MaxPopularStoresLimit = 50
)

// Publisher fans committed changes out to live subscribers of a list.
type Publisher interface {
	Publish(msg socket.WSMessage)
	CloseList(listID int64)
}

// ListOptions controls pagination of list and item collections.
type ListOptions struct {
	Skip          int
	Limit         int
	IncludeClosed bool
}

func (o ListOptions) normalized() ListOptions {
	if o.Skip < 0 {
		o.Skip = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	return o
}

// GroceryService implements the list and item operations. Every operation
// is scoped to owner, and anything owner does not own is model.ErrNotFound.
type GroceryService struct {
	Repo *repository.GroceryRepository
	Hub  Publisher
}

func NewGroceryService(repo *repository.GroceryRepository, hub Publisher) *GroceryService {
	return &GroceryService{Repo: repo, Hub: hub}
}

// --- Lists ---

func (s *GroceryService) CreateList(ctx context.Context, owner string, req model.CreateListRequest) (model.ListResponse, error) {
	if err := req.Validate(); err != nil {
		return model.ListResponse{}, err
	}

	rec, err := s.Repo.InsertList(ctx, store.ListRecord{
		Name:        req.Name,
		Description: store.NullString(req.Description),
		Owner:       owner,
		Stores:      store.NullString(req.Stores),
		ListDate:    store.NullTime(req.ListDate),
		IsClosed:    req.IsClosed,
	})
	if err != nil {
		return model.ListResponse{}, err
	}
	logger.Sugar.Infof("List %d created by %s", rec.ID, owner)
	return model.NewListResponse(rec), nil
}

func (s *GroceryService) ListLists(ctx context.Context, owner string, opts ListOptions) ([]model.ListResponse, error) {
	opts = opts.normalized()
	recs, err := s.Repo.ListsByOwner(ctx, owner, opts.IncludeClosed, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}
	lists := make([]model.ListResponse, 0, len(recs))
	for _, r := range recs {
		lists = append(lists, model.NewListResponse(r))
	}
	return lists, nil
}

func (s *GroceryService) GetList(ctx context.Context, owner string, id int64) (model.ListWithItemsResponse, error) {
	var resp model.ListWithItemsResponse
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		var err error
		resp, err = loadListWithItems(ctx, q, owner, id)
		return err
	})
	return resp, err
}

func (s *GroceryService) UpdateList(ctx context.Context, owner string, id int64, req model.UpdateListRequest) (model.ListResponse, error) {
	if err := req.Validate(); err != nil {
		return model.ListResponse{}, err
	}

	var updated store.ListRecord
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		rec, err := q.GetOwnedList(ctx, id, owner, true)
		if err != nil {
			return err
		}
		applyListUpdate(&rec, req)
		updated, err = q.UpdateList(ctx, rec)
		return err
	})
	if err != nil {
		return model.ListResponse{}, err
	}

	resp := model.NewListResponse(updated)
	s.publish(socket.ListUpdatedType, id, owner, resp)
	return resp, nil
}

// DeleteList removes the list together with all of its items.
func (s *GroceryService) DeleteList(ctx context.Context, owner string, id int64) error {
	if err := s.Repo.DeleteList(ctx, id, owner); err != nil {
		return err
	}
	logger.Sugar.Infof("List %d deleted by %s", id, owner)

	s.publish(socket.ListDeletedType, id, owner, map[string]int64{"id": id})
	if s.Hub != nil {
		s.Hub.CloseList(id)
	}
	return nil
}

// CloseList archives the list, first moving the requested items elsewhere
// when a migration is supplied. Both happen in one transaction.
func (s *GroceryService) CloseList(ctx context.Context, owner string, id int64, req model.CloseListRequest) (model.ListResponse, error) {
	if req.Migration != nil {
		if err := req.Migration.Validate(); err != nil {
			return model.ListResponse{}, err
		}
	}

	var closed store.ListRecord
	var targetID int64
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		rec, err := q.GetOwnedList(ctx, id, owner, true)
		if err != nil {
			return err
		}
		if req.Migration != nil {
			if targetID, err = migrateItems(ctx, q, owner, id, *req.Migration); err != nil {
				return err
			}
		}
		rec.IsClosed = true
		closed, err = q.UpdateList(ctx, rec)
		return err
	})
	if err != nil {
		return model.ListResponse{}, err
	}

	resp := model.NewListResponse(closed)
	s.publish(socket.ListUpdatedType, id, owner, resp)
	if targetID != 0 {
		s.publish(socket.ListUpdatedType, targetID, owner, map[string]int64{"id": targetID})
	}
	return resp, nil
}

// MigrateItems moves items of the source list into another list and returns
// the target list with its items.
func (s *GroceryService) MigrateItems(ctx context.Context, owner string, sourceID int64, req model.MigrateItemsRequest) (model.ListWithItemsResponse, error) {
	if err := req.Validate(); err != nil {
		return model.ListWithItemsResponse{}, err
	}

	var resp model.ListWithItemsResponse
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		if _, err := q.GetOwnedList(ctx, sourceID, owner, true); err != nil {
			return err
		}
		targetID, err := migrateItems(ctx, q, owner, sourceID, req)
		if err != nil {
			return err
		}
		resp, err = loadListWithItems(ctx, q, owner, targetID)
		return err
	})
	if err != nil {
		return model.ListWithItemsResponse{}, err
	}

	s.publish(socket.ListUpdatedType, sourceID, owner, map[string]int64{"id": sourceID})
	s.publish(socket.ListUpdatedType, resp.ID, owner, resp)
	return resp, nil
}

// --- Items ---

func (s *GroceryService) CreateItem(ctx context.Context, owner string, listID int64, req model.CreateItemRequest) (model.ItemResponse, error) {
	if err := req.Validate(); err != nil {
		return model.ItemResponse{}, err
	}

	var created store.ItemRecord
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		if _, err := q.GetOwnedList(ctx, listID, owner, true); err != nil {
			return err
		}
		var err error
		created, err = q.InsertItem(ctx, store.ItemRecord{
			ListID:    listID,
			Name:      req.Name,
			Quantity:  *req.Quantity,
			Unit:      store.NullString(req.Unit),
			Category:  store.NullString(req.Category),
			Store:     store.NullString(req.Store),
			Notes:     store.NullString(req.Notes),
			Purchased: req.Purchased,
		})
		return err
	})
	if err != nil {
		return model.ItemResponse{}, err
	}

	resp := model.NewItemResponse(created)
	s.publish(socket.ItemCreatedType, listID, owner, resp)
	return resp, nil
}

func (s *GroceryService) ListItems(ctx context.Context, owner string, listID int64, opts ListOptions) ([]model.ItemResponse, error) {
	opts = opts.normalized()

	var recs []store.ItemRecord
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		if _, err := q.GetOwnedList(ctx, listID, owner, false); err != nil {
			return err
		}
		var err error
		recs, err = q.ItemsByList(ctx, listID, opts.Skip, opts.Limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return model.NewItemResponses(recs), nil
}

func (s *GroceryService) GetItem(ctx context.Context, owner string, id int64) (model.ItemResponse, error) {
	rec, err := s.Repo.GetOwnedItem(ctx, id, owner, false)
	if err != nil {
		return model.ItemResponse{}, err
	}
	return model.NewItemResponse(rec), nil
}

func (s *GroceryService) UpdateItem(ctx context.Context, owner string, id int64, req model.UpdateItemRequest) (model.ItemResponse, error) {
	if err := req.Validate(); err != nil {
		return model.ItemResponse{}, err
	}

	var updated store.ItemRecord
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		rec, err := q.GetOwnedItem(ctx, id, owner, true)
		if err != nil {
			return err
		}
		applyItemUpdate(&rec, req)
		updated, err = q.UpdateItem(ctx, rec)
		return err
	})
	if err != nil {
		return model.ItemResponse{}, err
	}

	resp := model.NewItemResponse(updated)
	s.publish(socket.ItemUpdatedType, updated.ListID, owner, resp)
	return resp, nil
}

// SetPurchased sets the purchased flag to *purchased, or flips it when
// purchased is nil. Setting the current value again is a successful no-op.
func (s *GroceryService) SetPurchased(ctx context.Context, owner string, id int64, purchased *bool) (model.ItemResponse, error) {
	var updated store.ItemRecord
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		rec, err := q.GetOwnedItem(ctx, id, owner, true)
		if err != nil {
			return err
		}
		target := !rec.Purchased
		if purchased != nil {
			target = *purchased
		}
		updated, err = q.SetPurchased(ctx, id, target)
		return err
	})
	if err != nil {
		return model.ItemResponse{}, err
	}

	resp := model.NewItemResponse(updated)
	s.publish(socket.ItemUpdatedType, updated.ListID, owner, resp)
	return resp, nil
}

func (s *GroceryService) DeleteItem(ctx context.Context, owner string, id int64) error {
	var listID int64
	err := s.Repo.WithTx(ctx, func(q *repository.Queries) error {
		rec, err := q.GetOwnedItem(ctx, id, owner, true)
		if err != nil {
			return err
		}
		listID = rec.ListID
		return q.DeleteItem(ctx, id)
	})
	if err != nil {
		return err
	}

	s.publish(socket.ItemDeletedType, listID, owner, map[string]int64{"id": id})
	return nil
}

// PopularStores returns the stores the owner names most often on items.
func (s *GroceryService) PopularStores(ctx context.Context, owner string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultPopularStores
	}
	if limit > MaxPopularStoresLimit {
		limit = MaxPopularStoresLimit
	}
	return s.Repo.PopularStores(ctx, owner, limit)
}

// Ping reports whether the store is reachable.
func (s *GroceryService) Ping(ctx context.Context) error {
	return s.Repo.Ping(ctx)
}

// --- helpers ---

func loadListWithItems(ctx context.Context, q *repository.Queries, owner string, id int64) (model.ListWithItemsResponse, error) {
	rec, err := q.GetOwnedList(ctx, id, owner, false)
	if err != nil {
		return model.ListWithItemsResponse{}, err
	}
	items, err := q.ItemsByList(ctx, id, 0, 0)
	if err != nil {
		return model.ListWithItemsResponse{}, err
	}
	return model.NewListWithItemsResponse(rec, items), nil
}

// migrateItems must run inside the transaction that already holds the
// source list. It returns the ID of the list the items were moved to.
func migrateItems(ctx context.Context, q *repository.Queries, owner string, sourceID int64, req model.MigrateItemsRequest) (int64, error) {
	ids := uniqueIDs(req.ItemIDs)
	items, err := q.ItemsInList(ctx, sourceID, ids)
	if err != nil {
		return 0, err
	}
	// Items that are missing and items of other lists get the same answer.
	if len(items) != len(ids) {
		return 0, model.NewValidationError("item_ids", "one or more items were not found in this list")
	}

	var targetID int64
	if req.NewListName != nil {
		created, err := q.InsertList(ctx, store.ListRecord{
			Name:        *req.NewListName,
			Description: store.NullString(req.NewListDescription),
			Owner:       owner,
		})
		if err != nil {
			return 0, err
		}
		targetID = created.ID
	} else {
		target, err := q.GetOwnedList(ctx, *req.TargetListID, owner, true)
		if err != nil {
			return 0, err
		}
		if target.ID == sourceID {
			return 0, model.NewValidationError("target_list_id", "target list must differ from the source list")
		}
		targetID = target.ID
	}

	if _, err := q.MoveItems(ctx, ids, targetID); err != nil {
		return 0, err
	}
	logger.Sugar.Infof("Moved %d items from list %d to list %d", len(ids), sourceID, targetID)
	return targetID, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func applyListUpdate(rec *store.ListRecord, req model.UpdateListRequest) {
	if req.Name.Set {
		rec.Name = *req.Name.Value
	}
	if req.Description.Set {
		rec.Description = store.NullString(req.Description.Value)
	}
	if req.Stores.Set {
		rec.Stores = store.NullString(req.Stores.Value)
	}
	if req.ListDate.Set {
		rec.ListDate = store.NullTime(req.ListDate.Value)
	}
	if req.IsClosed.Set {
		rec.IsClosed = *req.IsClosed.Value
	}
}

func applyItemUpdate(rec *store.ItemRecord, req model.UpdateItemRequest) {
	if req.Name.Set {
		rec.Name = *req.Name.Value
	}
	if req.Quantity.Set {
		rec.Quantity = *req.Quantity.Value
	}
	if req.Unit.Set {
		rec.Unit = store.NullString(req.Unit.Value)
	}
	if req.Category.Set {
		rec.Category = store.NullString(req.Category.Value)
	}
	if req.Store.Set {
		rec.Store = store.NullString(req.Store.Value)
	}
	if req.Notes.Set {
		rec.Notes = store.NullString(req.Notes.Value)
	}
	if req.Purchased.Set {
		rec.Purchased = *req.Purchased.Value
	}
}

func (s *GroceryService) publish(msgType string, listID int64, userID string, payload any) {
	if s.Hub == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s event for list %d: %v", msgType, listID, err)
		return
	}
	s.Hub.Publish(socket.WSMessage{Type: msgType, ListID: listID, UserID: userID, Payload: body})
}
