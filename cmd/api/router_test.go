package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjperalta/cropcoef-api/internal/cache"
	"github.com/sjperalta/cropcoef-api/internal/config"
	"github.com/sjperalta/cropcoef-api/internal/database"
	"github.com/sjperalta/cropcoef-api/internal/handlers"
	"github.com/sjperalta/cropcoef-api/internal/jobs"
	"github.com/sjperalta/cropcoef-api/internal/middleware"
	"github.com/sjperalta/cropcoef-api/internal/repository"
	"github.com/sjperalta/cropcoef-api/internal/services"
)

const testSecret = "router-test-secret"

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect("sqlite:file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	redis := miniredis.RunT(t)
	proposalCache, err := cache.NewProposalCache("redis://"+redis.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proposalCache.Close() })

	cfg := &config.Config{
		JWTSecret:        testSecret,
		AllowedOrigins:   []string{"*"},
		OperationTimeout: 5 * time.Second,
	}
	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)
	svcs := services.NewServices(db, repository.NewRepositories(db), worker, services.NewDecisionNotifier(nil, nil))
	svcs.Review.SubscribeReadModel(proposalCache)
	return &apiClient{t: t, router: setupRouter(handlers.NewHandlers(svcs, proposalCache), cfg)}
}

func (a *apiClient) token(subject, role string) string {
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(a.t, err)
	return signed
}

func (a *apiClient) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if json.Valid(w.Body.Bytes()) {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func proposalField(t *testing.T, body map[string]interface{}, field string) interface{} {
	t.Helper()
	p, ok := body["proposal"].(map[string]interface{})
	require.True(t, ok, "response has no proposal: %v", body)
	return p[field]
}

func submission() map[string]interface{} {
	return map[string]interface{}{
		"proposal": map[string]interface{}{
			"subject_id": "maize-grain",
			"coefficients": map[string]interface{}{
				"kc_ini": 0.4, "kc_dev": 0.7, "kc_mid": 1.15, "kc_end": 0.8,
				"l_ini": 25, "l_dev": 35, "l_mid": 40, "l_late": 30, "season_length": 130,
			},
			"provenance": map[string]interface{}{"source": "FAO-56", "submitter_name": "Ana Ruiz"},
		},
	}
}

func TestHealth(t *testing.T) {
	api := newAPI(t)
	w, body := api.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReviewWorkflowOverHTTP(t *testing.T) {
	api := newAPI(t)
	submitter := api.token("ana", "submitter")
	reviewer := api.token("luis", middleware.RoleReviewer)

	w, _ := api.do(http.MethodPost, "/api/v1/proposals", "", submission())
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := api.do(http.MethodPost, "/api/v1/proposals", submitter, submission())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := proposalField(t, body, "id").(string)
	createEntry := body["audit_entry_id"].(string)
	assert.Equal(t, float64(1), proposalField(t, body, "version"))

	base := "/api/v1/proposals/" + id

	// Submitters cannot decide
	w, _ = api.do(http.MethodPost, base+"/approve", submitter, map[string]interface{}{"expected_version": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = api.do(http.MethodPost, base+"/approve", reviewer, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = api.do(http.MethodPost, base+"/approve", reviewer, map[string]interface{}{"expected_version": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "approved", proposalField(t, body, "status"))

	w, _ = api.do(http.MethodPost, base+"/approve", reviewer, map[string]interface{}{"expected_version": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = api.do(http.MethodPost, base+"/reject", reviewer, map[string]interface{}{"expected_version": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = api.do(http.MethodGet, base, submitter, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), proposalField(t, body, "version"))

	w, body = api.do(http.MethodPost, base+"/revert", reviewer, map[string]interface{}{"expected_version": 2, "entry_id": createEntry})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pending", proposalField(t, body, "status"))
	assert.Equal(t, float64(3), proposalField(t, body, "version"))

	edit := submission()
	edit["proposal"].(map[string]interface{})["expected_version"] = 3
	edit["proposal"].(map[string]interface{})["coefficients"].(map[string]interface{})["kc_mid"] = 2.4
	w, body = api.do(http.MethodPatch, base, submitter, edit)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["fields"], "coefficients.kc_mid")

	w, body = api.do(http.MethodGet, base+"/history/"+createEntry+"/state", submitter, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, body["state"])

	w, _ = api.do(http.MethodGet, base+"/history.xlsx", submitter, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	w, _ = api.do(http.MethodDelete, base+"?expected_version=3", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = api.do(http.MethodGet, base, submitter, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = api.do(http.MethodGet, base+"/history", submitter, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), body["total"])

	w, _ = api.do(http.MethodGet, "/api/v1/jobs/status", reviewer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownProposal(t *testing.T) {
	api := newAPI(t)
	token := api.token("ana", "submitter")

	w, _ := api.do(http.MethodGet, "/api/v1/proposals/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(http.MethodGet, "/api/v1/proposals/missing/history.pdf", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
