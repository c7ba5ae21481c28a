package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/api/response"
)

// maxBodyBytes bounds request bodies accepted by the API.
const maxBodyBytes = 64 << 10

var validate = validator.New()

// decodeAndValidate reads a JSON body into dst and validates it. On failure
// it writes a 400 problem and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.BadRequest(w, r, "request validation failed", fieldErrors(verrs))
			return false
		}
		response.BadRequest(w, r, err.Error(), nil)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) []models.FieldError {
	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   jsonFieldName(fe.Namespace()),
			Message: "failed on the '" + fe.Tag() + "' rule",
			Code:    strings.ToUpper(fe.Tag()),
		})
	}
	return out
}

// jsonFieldName turns "AddStationRequest.Label" into "label".
func jsonFieldName(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		namespace = rest
	}
	parts := strings.Split(namespace, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}
