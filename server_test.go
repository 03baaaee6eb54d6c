package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func testRouter(ready bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return newRouter(logger, func() bool { return ready })
}

func serve(r *gin.Engine, method string, target string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthzIsAlwaysServed(t *testing.T) {
	w := serve(testRouter(false), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRoutesWaitForDependencies(t *testing.T) {
	w := serve(testRouter(false), http.MethodGet, "/canteenStatistics?region=84&year=2021", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadinessNeedsOnlyTheDatabase(t *testing.T) {
	db, redisClient := config.GetDB(), config.GetRedisDB()
	t.Cleanup(func() {
		config.SetDB(db)
		config.SetRedisDB(redisClient)
	})

	config.SetDB(nil)
	config.SetRedisDB(nil)
	assert.False(t, dependenciesReady())

	config.SetDB(&gorm.DB{})
	assert.True(t, dependenciesReady())
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(testRouter(false), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestStatisticsRequireParameters(t *testing.T) {
	r := testRouter(true)
	cases := map[string]string{
		"/canteenStatistics?year=2021":            "region ou department manquant",
		"/canteenStatistics?region=84":            "year manquant",
		"/canteenStatistics/export?department=38": "year manquant",
	}
	for target, message := range cases {
		w := serve(r, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.JSONEq(t, `{"error":"`+message+`"}`, w.Body.String(), target)
	}
}

func TestManagerRoutesRejectAnonymousCalls(t *testing.T) {
	r := testRouter(true)
	routes := []struct{ method, target string }{
		{http.MethodPost, "/teledeclarations"},
		{http.MethodPost, "/teledeclarations/1/cancel"},
		{http.MethodGet, "/teledeclarations/1/pdf"},
		{http.MethodPost, "/importDiagnostics"},
		{http.MethodPost, "/importPurchases"},
		{http.MethodPost, "/canteens/1/diagnostics"},
		{http.MethodPatch, "/canteens/1/diagnostics/2"},
		{http.MethodGet, "/internal/ops/outbox/status/teledeclarations/1"},
	}
	for _, route := range routes {
		w := serve(r, route.method, route.target, "")
		assert.Equal(t, http.StatusForbidden, w.Code, route.target)
	}
}

func TestPublishedCanteensRejectsUnknownBadge(t *testing.T) {
	w := serve(testRouter(true), http.MethodGet, "/publishedCanteens?badge=gold", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Badge 'gold' inconnu","field":"badge"}`, w.Body.String())
}

func TestPublishedCanteenRejectsBadId(t *testing.T) {
	w := serve(testRouter(true), http.MethodGet, "/publishedCanteens/abc", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	w := serve(testRouter(true), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		body string
	}{
		{errors.New("dial tcp: connection refused"), http.StatusInternalServerError, `{"error":"` + internalErrorMessage + `"}`},
		{utils.NewValidationError("year", "Année invalide"), http.StatusBadRequest, `{"error":"Année invalide","field":"year"}`},
		{utils.NewStateError("verrouillé"), http.StatusBadRequest, `{"error":"verrouillé"}`},
		{&utils.NotFoundError{Resource: "diagnostic", Message: "interdit", Status: http.StatusForbidden}, http.StatusForbidden, `{"error":"interdit"}`},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(c, "test", tc.err)
		assert.Equal(t, tc.code, w.Code)
		assert.JSONEq(t, tc.body, w.Body.String())
	}
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"https://a.fr", "https://b.fr"}, splitAndTrim(" https://a.fr, ,https://b.fr "))
	assert.Nil(t, splitAndTrim("  "))
}
