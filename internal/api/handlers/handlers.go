// Package handlers serves the admin API: health, ledger history and ledger
// purge, plus the loaded category taxonomy.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/budgetflow/internal/api/middleware"
	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// HistoryResponse is the body of GET /api/ledger.
type HistoryResponse struct {
	CustomerID string          `json:"customer_id,omitempty"`
	Records    []ledger.Record `json:"records"`
	Count      int             `json:"count"`
}

// ClearResponse is the body of DELETE /api/ledger.
type ClearResponse struct {
	CustomerID string `json:"customer_id,omitempty"`
	All        bool   `json:"all"`
	Deleted    int64  `json:"deleted"`
}

// LedgerHandler exposes the processed-file ledger.
type LedgerHandler struct {
	store ledger.Store
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(store ledger.Store) *LedgerHandler {
	return &LedgerHandler{store: store}
}

// History handles GET /api/ledger?customer=ID. Without a customer every
// record is returned.
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	customerID := r.URL.Query().Get("customer")

	var (
		records []ledger.Record
		err     error
	)
	if customerID == "" {
		records, err = h.store.History(ctx)
	} else {
		records, err = h.store.CustomerHistory(ctx, customerID)
	}
	if err != nil {
		log.Error().Err(err).Str("customer_id", customerID).Msg("Failed to read ledger history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read ledger history")
		return
	}

	if records == nil {
		records = []ledger.Record{}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < len(records) {
			records = records[:n]
		}
	}

	middleware.WriteJSON(w, http.StatusOK, HistoryResponse{
		CustomerID: customerID,
		Records:    records,
		Count:      len(records),
	})
}

// Clear handles DELETE /api/ledger. Exactly one of ?customer=ID or ?all=true
// is required.
func (h *LedgerHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	customerID := r.URL.Query().Get("customer")
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	switch {
	case customerID == "" && !all:
		middleware.WriteError(w, http.StatusBadRequest, "customer or all=true is required")
		return
	case customerID != "" && all:
		middleware.WriteError(w, http.StatusBadRequest, "customer and all=true are mutually exclusive")
		return
	}

	deleted, err := h.store.Clear(ctx, customerID)
	if err != nil {
		log.Error().Err(err).Str("customer_id", customerID).Msg("Failed to clear ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to clear ledger")
		return
	}

	log.Warn().Str("customer_id", customerID).Bool("all", all).Int64("deleted", deleted).Msg("Ledger cleared")
	middleware.WriteJSON(w, http.StatusOK, ClearResponse{
		CustomerID: customerID,
		All:        all,
		Deleted:    deleted,
	})
}

// CategoriesHandler lists the taxonomy the service was started with.
type CategoriesHandler struct {
	set domain.CategorySet
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(set domain.CategorySet) *CategoriesHandler {
	return &CategoriesHandler{set: set}
}

// List handles GET /api/categories.
func (h *CategoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": h.set.Categories(),
		"fallback":   h.set.Fallback(),
	})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// NewRouter mounts every route behind the middleware chain.
func NewRouter(store ledger.Store, set domain.CategorySet, log zerolog.Logger) http.Handler {
	ledgerHandler := NewLedgerHandler(store)
	categoriesHandler := NewCategoriesHandler(set)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		Health(w, r)
	})

	mux.HandleFunc("/api/ledger", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			ledgerHandler.History(w, r)
		case http.MethodDelete:
			ledgerHandler.Clear(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		categoriesHandler.List(w, r)
	})

	// Apply middleware chain
	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}
