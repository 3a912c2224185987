package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var apiRoutes = mux.NewRouter()

func init() {
	apiRoutes.HandleFunc("/routes", routesListHandler).Methods("GET")
	apiRoutes.HandleFunc("/routes", routesCreateHandler).Methods("POST")
	apiRoutes.HandleFunc("/routes/{hostname}", routesDeleteHandler).Methods("DELETE")
	apiRoutes.HandleFunc("/health", healthHandler).Methods("GET")
}

func StartApiServer(apiBinding string) {
	logrus.WithField("binding", apiBinding).Info("Serving API requests")
	go func() {
		logrus.WithError(
			http.ListenAndServe(apiBinding, apiRoutes)).Error("API server failed")
	}()
}

func routesListHandler(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(Routes.GetEndpoints()); err != nil {
		logrus.WithError(err).Error("Failed to encode endpoints")
		writer.WriteHeader(http.StatusInternalServerError)
	}
}

func routesCreateHandler(writer http.ResponseWriter, request *http.Request) {
	var endpoint Endpoint
	//goland:noinspection GoUnhandledErrorResult
	defer request.Body.Close()
	if err := json.NewDecoder(request.Body).Decode(&endpoint); err != nil {
		logrus.WithError(err).Error("Failed to decode endpoint body")
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if endpoint.Hostname == "" {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	Routes.CreateEndpoint(endpoint)
	writer.WriteHeader(http.StatusCreated)
}

func routesDeleteHandler(writer http.ResponseWriter, request *http.Request) {
	hostname := mux.Vars(request)["hostname"]

	if Routes.DeleteEndpoint(hostname) {
		writer.WriteHeader(http.StatusOK)
	} else {
		writer.WriteHeader(http.StatusNotFound)
	}
}

func healthHandler(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
}
