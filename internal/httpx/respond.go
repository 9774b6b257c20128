package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopworks/storefront-api/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOrdersErr(w http.ResponseWriter, err error) {
	var stock *orders.InsufficientStockError
	var trans *orders.InvalidTransitionError
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": stock.ProductID,
			"available":  stock.Available,
			"requested":  stock.Requested,
		})
	case errors.As(err, &trans):
		writeJSON(w, http.StatusConflict, map[string]string{"error": trans.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrQuantity), errors.Is(err, orders.ErrNoItems):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
