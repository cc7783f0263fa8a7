package handlers

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"lessongate/internal/content"
	"lessongate/pkg/logging/logging"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names instead of Go field names
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// errorBody is the shape of every non-2xx JSON response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidRequest("request body too large")
		}
		return invalidRequest("invalid JSON body")
	}
	if err := requestValidator().Struct(v); err != nil {
		return invalidRequest(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "max", "min":
			msgs = append(msgs, field+" must be "+fe.Tag()+" "+fe.Param())
		default:
			msgs = append(msgs, field+" is invalid ("+fe.Tag()+")")
		}
	}
	return strings.Join(msgs, "; ")
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func invalidRequest(msg string) error { return &requestError{msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error shape. Caller mistakes are 400,
// anything else is logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: reqErr.msg})
	case errors.Is(err, content.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: inputMessage(err)})
	default:
		logging.L(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_server_error"})
	}
}

// inputMessage drops the sentinel prefix from a wrapped ErrInvalidInput.
func inputMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, content.ErrInvalidInput.Error()+": "); ok {
		return rest
	}
	return msg
}
