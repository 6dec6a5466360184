package api

import (
	"encoding/json"
	"net/http"

	"github.com/netglass/wifictl/wifierr"
)

func (a *Api) jsonResponse(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.log.Errorf("Could not respond with JSON: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (a *Api) jsonError(w http.ResponseWriter, err error) {
	res := &errorResponse{
		Error: err.Error(),
	}

	code := http.StatusInternalServerError

	if kind, ok := wifierr.KindOf(err); ok {
		res.Kind = kind.String()

		switch kind {
		case wifierr.NotFound:
			code = http.StatusNotFound
		case wifierr.Busy, wifierr.Conflict, wifierr.InUse:
			code = http.StatusConflict
		case wifierr.InvalidParams, wifierr.Unsupported:
			code = http.StatusBadRequest
		case wifierr.SecretUnavailable:
			code = http.StatusUnauthorized
		case wifierr.Timeout:
			code = http.StatusGatewayTimeout
		}
	}

	a.jsonResponse(w, res, code)
}
