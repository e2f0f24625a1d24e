package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/WebHare/platform-sub003/internal/entities"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 8 << 20

// decodeStruct reads a JSON object body into a map of wire values
func decodeStruct(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", errBadRequest, err)
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", errBadRequest, err)
	}
	return s.AsMap(), nil
}

// writeStruct writes v as a JSON object
func writeStruct(w http.ResponseWriter, status int, v map[string]any) error {
	s, err := structpb.NewStruct(toWire(v).(map[string]any))
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	body, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// toWire converts exported values into the types structpb accepts
func toWire(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return x
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return x.String()
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = toWire(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = toWire(rv.Index(i).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return toWire(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// problem is one entry of an error response
type problem struct {
	Path    string
	Code    string
	Message string
}

// writeError maps domain errors onto HTTP statuses
func (h *EntityHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, entities.ErrUnknownSchema), errors.Is(err, entities.ErrUnknownType),
		errors.Is(err, entities.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, entities.ErrIDInUse):
		status, code = http.StatusConflict, "id_in_use"
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case entities.IsInternalError(err):
		// unknown fields and similar caller mistakes
		status, code = http.StatusBadRequest, "invalid_request"
	}

	problems := validationProblems(err)
	if len(problems) > 0 {
		status = http.StatusUnprocessableEntity
		code = "validation_failed"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}

	body := map[string]any{"code": code, "message": err.Error()}
	if len(problems) > 0 {
		list := make([]any, len(problems))
		for i, p := range problems {
			list[i] = map[string]any{"path": p.Path, "code": p.Code, "message": p.Message}
		}
		body["errors"] = list
	}
	if werr := writeStruct(w, status, body); werr != nil {
		h.logger.Warn("failed to write error response", zap.Error(werr))
	}
}

// validationProblems lists every validation error in err, which may be a
// multierror collected over several fields
func validationProblems(err error) []problem {
	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	} else {
		errs = []error{err}
	}
	var out []problem
	for _, e := range errs {
		if verr, ok := entities.AsValidationError(e); ok {
			out = append(out, problem{Path: verr.Path, Code: string(verr.Code), Message: verr.Message})
		}
	}
	slices.SortStableFunc(out, func(a, b problem) int { return strings.Compare(a.Path, b.Path) })
	return out
}
