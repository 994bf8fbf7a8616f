package router

import (
	"context"
	"database/sql"
	"net/http"

	"grocerylist/config"
	handler "grocerylist/internal/grocery"
	"grocerylist/internal/grocery/repository"
	"grocerylist/internal/grocery/service"
	"grocerylist/middleware"
	"grocerylist/socket"
)

func Setup(cfg *config.Config, db *sql.DB, hub *socket.Hub) http.Handler {
	repo := repository.NewGroceryRepository(db)
	svc := service.NewGroceryService(repo, hub)
	return NewHandler(cfg, handler.NewGroceryHandler(svc), hub)
}

// NewHandler builds the route table around an already constructed handler.
func NewHandler(cfg *config.Config, h *handler.GroceryHandler, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()
	authn := middleware.NewAuthenticator(cfg.Auth)
	auth := func(f http.HandlerFunc) http.Handler { return authn.Middleware(f) }

	// Service status
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)

	// Lists
	mux.Handle("GET /api/lists", auth(h.GetLists))
	mux.Handle("GET /api/lists/{$}", auth(h.GetLists))
	mux.Handle("POST /api/lists", auth(h.CreateList))
	mux.Handle("POST /api/lists/{$}", auth(h.CreateList))
	mux.Handle("GET /api/lists/{id}", auth(h.GetList))
	mux.Handle("PUT /api/lists/{id}", auth(h.UpdateList))
	mux.Handle("DELETE /api/lists/{id}", auth(h.DeleteList))
	mux.Handle("POST /api/lists/{id}/close", auth(h.CloseList))
	mux.Handle("POST /api/lists/{id}/migrate-items", auth(h.MigrateItems))

	// Items
	mux.Handle("GET /api/items/list/{list_id}", auth(h.GetItems))
	mux.Handle("POST /api/items/list/{list_id}", auth(h.CreateItem))
	mux.Handle("GET /api/items/stores/popular", auth(h.PopularStores))
	mux.Handle("GET /api/items/{id}", auth(h.GetItem))
	mux.Handle("PUT /api/items/{id}", auth(h.UpdateItem))
	mux.Handle("PATCH /api/items/{id}/purchased", auth(h.TogglePurchased))
	mux.Handle("DELETE /api/items/{id}", auth(h.DeleteItem))

	// WebSocket
	if hub != nil {
		upgrader := socket.NewUpgrader(cfg.CORS.AllowedOrigins())
		snapshot := func(ctx context.Context, userID string, listID int64) (any, error) {
			return h.Service.GetList(ctx, userID, listID)
		}
		wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := middleware.UserIDFromContext(r.Context())
			socket.ServeWs(hub, upgrader, w, r, userID, snapshot)
		})
		mux.Handle("GET /ws", authn.WebSocketMiddleware(wsHandler))
	}

	return withMiddleware(mux, cfg)
}

// withMiddleware wraps the route table, outermost first. Logger sits outside
// Recovery so a recovered panic still produces its request line.
func withMiddleware(h http.Handler, cfg *config.Config) http.Handler {
	return middleware.Chain(h,
		middleware.RequestID,
		middleware.Logger,
		middleware.Recovery,
		middleware.CORSMiddleware(cfg.CORS.AllowedOrigins()),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)
}
