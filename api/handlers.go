package api

import (
	"encoding/json"
	"net/http"

	"github.com/netglass/wifictl/connector"
)

type statusResponse struct {
	Device      string `json:"device"`
	DeviceState string `json:"deviceState"`
	State       string `json:"state"`
	SSID        string `json:"ssid,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (a *Api) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := a.connector.Status(r.URL.Query().Get("device"))
		if err != nil {
			a.jsonError(w, err)
			return
		}

		res := &statusResponse{
			Device:      status.Device,
			DeviceState: status.DeviceState.String(),
			State:       status.State.String(),
			SSID:        status.SSID,
			Error:       status.Error,
		}

		a.jsonResponse(w, res, http.StatusOK)
	}
}

type networkResponse struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Strength  uint8  `json:"strength"`
	Frequency uint32 `json:"frequency"`
	Secured   bool   `json:"secured"`
	Connected bool   `json:"connected"`
}

func (a *Api) handleGetNetworks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rescan := r.URL.Query().Get("rescan") == "true"

		networks, err := a.connector.Networks(r.Context(), r.URL.Query().Get("device"), rescan)
		if err != nil {
			a.jsonError(w, err)
			return
		}

		res := make([]*networkResponse, 0, len(networks))
		for _, network := range networks {
			res = append(res, &networkResponse{
				SSID:      network.SSID,
				BSSID:     network.BSSID,
				Strength:  network.Strength,
				Frequency: network.Frequency,
				Secured:   network.Secured,
				Connected: network.Connected,
			})
		}

		a.jsonResponse(w, res, http.StatusOK)
	}
}

type connectRequest struct {
	SSID   string `json:"ssid"`
	Device string `json:"device,omitempty"`
	Secret string `json:"secret,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

func (a *Api) handlePostConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest

		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			a.jsonError(w, err)
			return
		}

		err = a.connector.Connect(r.Context(), &connector.Target{
			SSID:   req.SSID,
			Device: req.Device,
			Secret: req.Secret,
			Hidden: req.Hidden,
		})
		if err != nil {
			a.jsonError(w, err)
			return
		}

		status, err := a.connector.Status(req.Device)
		if err != nil {
			a.jsonError(w, err)
			return
		}

		a.jsonResponse(w, &statusResponse{
			Device:      status.Device,
			DeviceState: status.DeviceState.String(),
			State:       status.State.String(),
			SSID:        status.SSID,
		}, http.StatusOK)
	}
}

type disconnectRequest struct {
	Device string `json:"device,omitempty"`
}

func (a *Api) handlePostDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req disconnectRequest

		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			a.jsonError(w, err)
			return
		}

		err = a.connector.Disconnect(r.Context(), req.Device)
		if err != nil {
			a.jsonError(w, err)
			return
		}

		a.jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
	}
}
