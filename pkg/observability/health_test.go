package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(db, client, "test").WithSigningCheck(func() bool { return true })
	status := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Len(t, status.Dependencies, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	checker := NewHealthChecker(db, nil, "")
	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["database"].Message, "connection refused")
}

func TestHealthChecker_RedisDownIsDegraded(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	checker := NewHealthChecker(nil, client, "")
	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)

	rec := httptest.NewRecorder()
	checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_MissingSigningKeys(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "").WithSigningCheck(func() bool { return false })
	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, "signing keys not configured", status.Dependencies["signing_keys"].Message)
}

func TestHealthChecker_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthChecker(nil, nil, "").Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}
