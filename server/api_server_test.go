package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApiRoutesLifecycle(t *testing.T) {
	Routes.Reset()

	// create
	request := httptest.NewRequest("POST", "/routes",
		strings.NewReader(`{"hostname": "mc.example.com", "origin": "10.0.0.1:25565"}`))
	recorder := httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusCreated, recorder.Code)

	// list
	request = httptest.NewRequest("GET", "/routes", nil)
	recorder = httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	var endpoints []Endpoint
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &endpoints))
	require.Len(t, endpoints, 1)
	assert.Equal(t, "mc.example.com", endpoints[0].Hostname)
	assert.Equal(t, "10.0.0.1:25565", endpoints[0].Origin)

	// delete
	request = httptest.NewRequest("DELETE", "/routes/mc.example.com", nil)
	recorder = httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)

	request = httptest.NewRequest("DELETE", "/routes/mc.example.com", nil)
	recorder = httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestApiRoutesCreateValidation(t *testing.T) {
	request := httptest.NewRequest("POST", "/routes", strings.NewReader(`{"origin": "10.0.0.1:25565"}`))
	recorder := httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	request = httptest.NewRequest("POST", "/routes", strings.NewReader(`not json`))
	recorder = httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestApiHealth(t *testing.T) {
	request := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()
	apiRoutes.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
