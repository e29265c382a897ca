package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"
)

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Log.WithError(err).Warn("write response")
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		Log.WithFields(logrus.Fields{"status": code}).WithError(err).Error("request failed")
	}
	if errors.Is(err, ErrRateLimited) {
		w.Header().Set("Retry-After", "60")
	}
	WriteJSON(w, code, map[string]any{"success": false, "error": PublicMessage(err)})
}

// DecodeJSON reads a JSON body into dst and runs its validate tags.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return Invalid("request body is required")
		}
		return WrapError(ErrInvalidInput, err, "malformed JSON body")
	}
	return ValidateStruct(dst)
}

// DecodeQuery fills dst from the URL query using `schema` tags.
func DecodeQuery(r *http.Request, dst any) error {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return WrapError(ErrInvalidInput, err, "invalid query parameters")
	}
	return ValidateStruct(dst)
}

func PathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func QueryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}
