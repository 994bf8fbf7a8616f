package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"grocerylist/internal/grocery/model"
	"grocerylist/internal/grocery/service"
	"grocerylist/middleware"
	"grocerylist/pkg/logger"
)

const maxBodyBytes = 1 << 20

// GroceryService is the set of operations the HTTP layer needs.
type GroceryService interface {
	CreateList(ctx context.Context, owner string, req model.CreateListRequest) (model.ListResponse, error)
	ListLists(ctx context.Context, owner string, opts service.ListOptions) ([]model.ListResponse, error)
	GetList(ctx context.Context, owner string, id int64) (model.ListWithItemsResponse, error)
	UpdateList(ctx context.Context, owner string, id int64, req model.UpdateListRequest) (model.ListResponse, error)
	DeleteList(ctx context.Context, owner string, id int64) error
	CloseList(ctx context.Context, owner string, id int64, req model.CloseListRequest) (model.ListResponse, error)
	MigrateItems(ctx context.Context, owner string, sourceID int64, req model.MigrateItemsRequest) (model.ListWithItemsResponse, error)

	CreateItem(ctx context.Context, owner string, listID int64, req model.CreateItemRequest) (model.ItemResponse, error)
	ListItems(ctx context.Context, owner string, listID int64, opts service.ListOptions) ([]model.ItemResponse, error)
	GetItem(ctx context.Context, owner string, id int64) (model.ItemResponse, error)
	UpdateItem(ctx context.Context, owner string, id int64, req model.UpdateItemRequest) (model.ItemResponse, error)
	SetPurchased(ctx context.Context, owner string, id int64, purchased *bool) (model.ItemResponse, error)
	DeleteItem(ctx context.Context, owner string, id int64) error
	PopularStores(ctx context.Context, owner string, limit int) ([]string, error)

	Ping(ctx context.Context) error
}

type GroceryHandler struct {
	Service GroceryService
}

func NewGroceryHandler(service GroceryService) *GroceryHandler {
	return &GroceryHandler{Service: service}
}

// --- Lists ---

func (h *GroceryHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req model.CreateListRequest
	if !decodeBody(w, r, &req) {
		return
	}

	list, err := h.Service.CreateList(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (h *GroceryHandler) GetLists(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}

	lists, err := h.Service.ListLists(r.Context(), userID(r), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *GroceryHandler) GetList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	list, err := h.Service.GetList(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *GroceryHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req model.UpdateListRequest
	if !decodeBody(w, r, &req) {
		return
	}

	list, err := h.Service.UpdateList(r.Context(), userID(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *GroceryHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Service.DeleteList(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseList accepts an empty body, meaning close without moving any items.
func (h *GroceryHandler) CloseList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req model.CloseListRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	list, err := h.Service.CloseList(r.Context(), userID(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *GroceryHandler) MigrateItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req model.MigrateItemsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	list, err := h.Service.MigrateItems(r.Context(), userID(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Items ---

func (h *GroceryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r, "list_id")
	if !ok {
		return
	}
	var req model.CreateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.Service.CreateItem(r.Context(), userID(r), listID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *GroceryHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r, "list_id")
	if !ok {
		return
	}
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}

	items, err := h.Service.ListItems(r.Context(), userID(r), listID, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *GroceryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	item, err := h.Service.GetItem(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *GroceryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req model.UpdateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.Service.UpdateItem(r.Context(), userID(r), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// TogglePurchased takes the new value from ?purchased= or a
// {"purchased": bool} body. With neither, the flag is flipped.
func (h *GroceryHandler) TogglePurchased(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req model.PurchasedRequest
	if raw := r.URL.Query().Get("purchased"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, model.NewValidationError("purchased", "must be true or false"))
			return
		}
		req.Purchased = &v
	} else if !decodeOptionalBody(w, r, &req) {
		return
	}

	item, err := h.Service.SetPurchased(r.Context(), userID(r), id, req.Purchased)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *GroceryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Service.DeleteItem(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroceryHandler) PopularStores(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", service.DefaultPopularStores)
	if !ok {
		return
	}

	stores, err := h.Service.PopularStores(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

// --- Service status ---

func (h *GroceryHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Grocery List Service is running"})
}

func (h *GroceryHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Ping(r.Context()); err != nil {
		logger.Sugar.Errorf("Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "grocery-list-service",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "grocery-list-service",
	})
}

// --- helpers ---

func userID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, model.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, r, model.NewValidationError(name, "must be a non-negative integer"))
		return 0, false
	}
	return v, true
}

func listOptions(w http.ResponseWriter, r *http.Request) (service.ListOptions, bool) {
	var opts service.ListOptions
	var ok bool
	if opts.Skip, ok = queryInt(w, r, "skip", 0); !ok {
		return opts, false
	}
	if opts.Limit, ok = queryInt(w, r, "limit", service.DefaultPageLimit); !ok {
		return opts, false
	}
	if raw := r.URL.Query().Get("include_closed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, model.NewValidationError("include_closed", "must be true or false"))
			return opts, false
		}
		opts.IncludeClosed = v
	}
	return opts, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints where the body may be omitted.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeError maps domain errors to status codes. Internal failures are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": "Validation failed",
			"errors": verr.Errors,
		})
	case errors.Is(err, model.ErrValidation):
		writeDetail(w, http.StatusUnprocessableEntity, "Validation failed")
	case errors.Is(err, model.ErrUnauthorized):
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, model.ErrNotFound):
		writeDetail(w, http.StatusNotFound, notFoundMessage(r))
	case errors.Is(err, model.ErrConflict):
		writeDetail(w, http.StatusConflict, "Conflicting change, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Sugar.Warnf("Handler: %s %s timed out: %v", r.Method, r.URL.Path, err)
		writeDetail(w, http.StatusServiceUnavailable, "Request timed out")
	default:
		logger.Sugar.Errorf("Handler: %s %s failed: %v", r.Method, r.URL.Path, err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func notFoundMessage(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/api/items/") && !strings.HasPrefix(r.URL.Path, "/api/items/list/") {
		return "Item not found"
	}
	return "Grocery list not found"
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Error encoding response: %v", err)
	}
}
