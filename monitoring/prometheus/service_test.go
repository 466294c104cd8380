package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/permagate/permagate/runtime"
	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
	logTest "github.com/sirupsen/logrus/hooks/test"
)

type healthyService struct{}

func (h *healthyService) Start()        {}
func (h *healthyService) Stop() error   { return nil }
func (h *healthyService) Status() error { return nil }

type failingService struct{}

func (f *failingService) Start()        {}
func (f *failingService) Stop() error   { return nil }
func (f *failingService) Status() error { return errors.New("peer refresh stalled") }

func TestLifecycle(t *testing.T) {
	hook := logTest.NewGlobal()
	service := NewService("127.0.0.1:0", runtime.NewServiceRegistry())

	service.Start()
	assert.LogsContain(t, hook, "Starting service")

	require.NoError(t, service.Stop())
	assert.LogsContain(t, hook, "Stopping service")
}

func TestHealthz_AllServicesOK(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&healthyService{}))
	service := NewService("127.0.0.1:0", registry)

	rr := httptest.NewRecorder()
	service.healthzHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, strings.Contains(rr.Body.String(), "OK"))
}

func TestHealthz_FailingServiceReports500(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&failingService{}))
	service := NewService("127.0.0.1:0", registry)

	rr := httptest.NewRecorder()
	service.healthzHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, true, strings.Contains(rr.Body.String(), "peer refresh stalled"))
}
