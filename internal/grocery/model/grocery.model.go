package model

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"grocerylist/store"
)

const (
	DefaultQuantity = 1.0

	maxNameLen        = 200
	maxDescriptionLen = 1000
	maxStoresLen      = 500
	maxUnitLen        = 50
	maxCategoryLen    = 100
	maxStoreLen       = 100
	maxNotesLen       = 500
)

// --- Requests ---

// CreateListRequest is the body of POST /api/lists/. Owner is never read
// from the body; it always comes from the token.
type CreateListRequest struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Stores      *string    `json:"stores"`
	ListDate    *time.Time `json:"list_date"`
	IsClosed    bool       `json:"is_closed"`
}

// UpdateListRequest is the body of PUT /api/lists/{id}. Absent fields are left as is.
type UpdateListRequest struct {
	Name        Optional[string]    `json:"name"`
	Description Optional[string]    `json:"description"`
	Stores      Optional[string]    `json:"stores"`
	ListDate    Optional[time.Time] `json:"list_date"`
	IsClosed    Optional[bool]      `json:"is_closed"`
}

type CreateItemRequest struct {
	Name      string   `json:"name"`
	Quantity  *float64 `json:"quantity"`
	Unit      *string  `json:"unit"`
	Category  *string  `json:"category"`
	Store     *string  `json:"store"`
	Notes     *string  `json:"notes"`
	Purchased bool     `json:"purchased"`
}

type UpdateItemRequest struct {
	Name      Optional[string]  `json:"name"`
	Quantity  Optional[float64] `json:"quantity"`
	Unit      Optional[string]  `json:"unit"`
	Category  Optional[string]  `json:"category"`
	Store     Optional[string]  `json:"store"`
	Notes     Optional[string]  `json:"notes"`
	Purchased Optional[bool]    `json:"purchased"`
}

// PurchasedRequest sets the purchased flag. A nil Purchased flips it.
type PurchasedRequest struct {
	Purchased *bool `json:"purchased"`
}

// MigrateItemsRequest moves items into an existing list or a new one.
type MigrateItemsRequest struct {
	ItemIDs            []int64 `json:"item_ids"`
	TargetListID       *int64  `json:"target_list_id"`
	NewListName        *string `json:"new_list_name"`
	NewListDescription *string `json:"new_list_description"`
}

type CloseListRequest struct {
	Migration *MigrateItemsRequest `json:"migration"`
}

// --- Responses ---

type ListResponse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Owner       string     `json:"owner"`
	Stores      *string    `json:"stores"`
	ListDate    *time.Time `json:"list_date"`
	IsClosed    bool       `json:"is_closed"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ListWithItemsResponse struct {
	ListResponse
	Items []ItemResponse `json:"items"`
}

type ItemResponse struct {
	ID            int64     `json:"id"`
	GroceryListID int64     `json:"grocery_list_id"`
	Name          string    `json:"name"`
	Quantity      float64   `json:"quantity"`
	Unit          *string   `json:"unit"`
	Category      *string   `json:"category"`
	Store         *string   `json:"store"`
	Notes         *string   `json:"notes"`
	Purchased     bool      `json:"purchased"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewListResponse(r store.ListRecord) ListResponse {
	return ListResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: store.StringPtr(r.Description),
		Owner:       r.Owner,
		Stores:      store.StringPtr(r.Stores),
		ListDate:    store.TimePtr(r.ListDate),
		IsClosed:    r.IsClosed,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func NewListWithItemsResponse(r store.ListRecord, items []store.ItemRecord) ListWithItemsResponse {
	return ListWithItemsResponse{
		ListResponse: NewListResponse(r),
		Items:        NewItemResponses(items),
	}
}

func NewItemResponse(r store.ItemRecord) ItemResponse {
	return ItemResponse{
		ID:            r.ID,
		GroceryListID: r.ListID,
		Name:          r.Name,
		Quantity:      r.Quantity,
		Unit:          store.StringPtr(r.Unit),
		Category:      store.StringPtr(r.Category),
		Store:         store.StringPtr(r.Store),
		Notes:         store.StringPtr(r.Notes),
		Purchased:     r.Purchased,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// NewItemResponses never returns nil so empty lists encode as [].
func NewItemResponses(records []store.ItemRecord) []ItemResponse {
	out := make([]ItemResponse, 0, len(records))
	for _, r := range records {
		out = append(out, NewItemResponse(r))
	}
	return out
}

// --- Validation ---
//
// Validate methods normalize the request in place (trimming, blank optional
// strings become nil) and return a *ValidationError listing every bad field.

func (r *CreateListRequest) Validate() error {
	var c checker
	c.requiredName("name", &r.Name)
	c.optional("description", &r.Description, maxDescriptionLen)
	c.optional("stores", &r.Stores, maxStoresLen)
	return c.err()
}

func (r *UpdateListRequest) Validate() error {
	var c checker
	if r.Name.Set {
		if r.Name.Value == nil {
			c.add("name", "must not be null")
		} else {
			c.requiredName("name", r.Name.Value)
		}
	}
	if r.Description.Set {
		c.optional("description", &r.Description.Value, maxDescriptionLen)
	}
	if r.Stores.Set {
		c.optional("stores", &r.Stores.Value, maxStoresLen)
	}
	if r.IsClosed.Set && r.IsClosed.Value == nil {
		c.add("is_closed", "must not be null")
	}
	return c.err()
}

func (r *CreateItemRequest) Validate() error {
	var c checker
	c.requiredName("name", &r.Name)
	if r.Quantity == nil {
		q := DefaultQuantity
		r.Quantity = &q
	} else {
		c.quantity(*r.Quantity)
	}
	c.optional("unit", &r.Unit, maxUnitLen)
	c.optional("category", &r.Category, maxCategoryLen)
	c.optional("store", &r.Store, maxStoreLen)
	c.optional("notes", &r.Notes, maxNotesLen)
	return c.err()
}

func (r *UpdateItemRequest) Validate() error {
	var c checker
	if r.Name.Set {
		if r.Name.Value == nil {
			c.add("name", "must not be null")
		} else {
			c.requiredName("name", r.Name.Value)
		}
	}
	if r.Quantity.Set {
		if r.Quantity.Value == nil {
			c.add("quantity", "must not be null")
		} else {
			c.quantity(*r.Quantity.Value)
		}
	}
	if r.Unit.Set {
		c.optional("unit", &r.Unit.Value, maxUnitLen)
	}
	if r.Category.Set {
		c.optional("category", &r.Category.Value, maxCategoryLen)
	}
	if r.Store.Set {
		c.optional("store", &r.Store.Value, maxStoreLen)
	}
	if r.Notes.Set {
		c.optional("notes", &r.Notes.Value, maxNotesLen)
	}
	if r.Purchased.Set && r.Purchased.Value == nil {
		c.add("purchased", "must not be null")
	}
	return c.err()
}

func (r *MigrateItemsRequest) Validate() error {
	var c checker
	if len(r.ItemIDs) == 0 {
		c.add("item_ids", "at least one item ID must be provided")
	}
	if r.NewListName != nil {
		c.requiredName("new_list_name", r.NewListName)
		c.optional("new_list_description", &r.NewListDescription, maxDescriptionLen)
	} else if r.TargetListID == nil {
		c.add("target_list_id", "either new_list_name or target_list_id must be provided")
	}
	return c.err()
}

type checker struct {
	errs []FieldError
}

func (c *checker) add(field, msg string) {
	c.errs = append(c.errs, FieldError{Field: field, Message: msg})
}

func (c *checker) requiredName(field string, v *string) {
	*v = strings.TrimSpace(*v)
	if *v == "" {
		c.add(field, "must not be empty or whitespace only")
		return
	}
	if utf8.RuneCountInString(*v) > maxNameLen {
		c.add(field, "must be at most 200 characters")
	}
}

func (c *checker) optional(field string, v **string, max int) {
	if *v == nil {
		return
	}
	s := strings.TrimSpace(**v)
	if s == "" {
		*v = nil
		return
	}
	*v = &s
	if utf8.RuneCountInString(s) > max {
		c.add(field, "is too long")
	}
}

func (c *checker) quantity(q float64) {
	if math.IsNaN(q) || math.IsInf(q, 0) {
		c.add("quantity", "must be a finite number")
		return
	}
	if q < 0 {
		c.add("quantity", "must be greater than or equal to 0")
	}
}

func (c *checker) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: c.errs}
}
