// Package httputil provides the JSON request and response helpers shared by
// the customer and audit handlers.
//
// Errors are written as {"error": "..."}:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
//	httputil.WriteJSON(w, http.StatusOK, event)
package httputil
