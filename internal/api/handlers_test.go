package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dexstats/internal/config"
	"dexstats/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	resp *entity.StatsResponse
	err  error
}

func (f *fakeProvider) GetStats(context.Context, int64) (*entity.StatsResponse, error) {
	return f.resp, f.err
}

func serveStats(t *testing.T, provider StatsProvider, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler := NewStatsHandler(provider, zap.NewNop())
	router := SetupRouter(handler, config.ServerConfig{RateLimit: 1000, RateBurst: 1000}, zap.NewNop())

	rec := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetStatsOK(t *testing.T) {
	provider := &fakeProvider{resp: &entity.StatsResponse{ChainID: 30}}
	rec := serveStats(t, provider, "/api/v1/stats/30")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chainID":30`)
}

func TestGetStatsInvalidChainID(t *testing.T) {
	rec := serveStats(t, &fakeProvider{}, "/api/v1/stats/notanumber")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatsUnsupportedChain(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("unsupported chain %d", 999)}
	rec := serveStats(t, provider, "/api/v1/stats/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatsComputationFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("indexer down")}
	rec := serveStats(t, provider, "/api/v1/stats/30")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "indexer down")
}

func TestHealth(t *testing.T) {
	rec := serveStats(t, &fakeProvider{}, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
