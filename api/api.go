// Package api exposes the orchestrator's operations over a small JSON
// HTTP surface, mirroring the CLI.
package api

import (
	"net"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/netglass/wifictl/connector"
)

type Config struct {
	Log Logger
}

type Api struct {
	connector *connector.Connector
	router    *mux.Router
	log       Logger
}

func New(config *Config) *Api {
	api := &Api{
		router: mux.NewRouter(),
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	api.router.Handle("/api/v1/status", api.handleGetStatus()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/networks", api.handleGetNetworks()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/connect", api.handlePostConnect()).Methods(http.MethodPost)
	api.router.Handle("/api/v1/disconnect", api.handlePostDisconnect()).Methods(http.MethodPost)

	return api
}

func (a *Api) SetConnector(connector *connector.Connector) {
	a.connector = connector
}

func (a *Api) Serve(l net.Listener) error {
	err := http.Serve(l, a.router)
	if err != nil {
		return errors.Errorf("Unable to serve api: %v", err)
	}

	return nil
}
