package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/modaluna/modaluna-backend/pkg/errors"
	"github.com/modaluna/modaluna-backend/pkg/pagination"
)

// PaginationFromQuery reads limit and cursor query parameters.
func PaginationFromQuery(r *http.Request) (pagination.Params, error) {
	params := pagination.Params{}

	if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
		value, err := strconv.Atoi(limitStr)
		if err != nil || value <= 0 {
			return params, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer")
		}
		params.Limit = value
	}
	params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))
	return params, nil
}
