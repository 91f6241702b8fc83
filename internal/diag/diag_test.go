package diag_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/diag"
	metricsprometheus "github.com/slok/taskvisor/internal/metrics/prometheus"
	"github.com/slok/taskvisor/internal/model"
)

type staticStatus []model.ModuleStatus

func (s staticStatus) Statuses() []model.ModuleStatus { return s }

func TestRouter(t *testing.T) {
	tests := map[string]struct {
		statuses   []model.ModuleStatus
		path       string
		expCode    int
		expBody    string
		expJSON    bool
		expContent string
	}{
		"Health should always be ok.": {
			path:    "/healthz",
			expCode: http.StatusOK,
			expBody: "ok\n",
		},

		"Status should be ready when all the modules are available.": {
			statuses: []model.ModuleStatus{
				{Module: model.Module{Service: "org.taskvisor.Module.Storage"}, Available: true},
				{Module: model.Module{Service: "org.taskvisor.Module.Users", Optional: true}},
			},
			path:    "/status",
			expCode: http.StatusOK,
			expJSON: true,
			expBody: `{"ready": true, "modules": [
				{"service": "org.taskvisor.Module.Storage", "optional": false, "available": true},
				{"service": "org.taskvisor.Module.Users", "optional": true, "available": false}
			]}`,
		},

		"Status should not be ready when a mandatory module is missing.": {
			statuses: []model.ModuleStatus{
				{Module: model.Module{Service: "org.taskvisor.Module.Storage"}},
			},
			path:    "/status",
			expCode: http.StatusOK,
			expJSON: true,
			expBody: `{"ready": false, "modules": [{"service": "org.taskvisor.Module.Storage", "optional": false, "available": false}]}`,
		},

		"Metrics should be served.": {
			path:       "/metrics",
			expCode:    http.StatusOK,
			expContent: `taskvisor_module_available{service="org.taskvisor.Module.Storage"} 1`,
		},

		"Unknown paths should not be found.": {
			path:    "/missing",
			expCode: http.StatusNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			reg := prometheus.NewRegistry()
			rec, err := metricsprometheus.NewRecorder(reg)
			require.NoError(err)
			rec.SetModuleAvailable("org.taskvisor.Module.Storage", true)

			h, err := diag.NewRouter(diag.RouterConfig{Gatherer: reg, Status: staticStatus(test.statuses)})
			require.NoError(err)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, test.path, nil))
			body, err := io.ReadAll(w.Result().Body)
			require.NoError(err)

			assert.Equal(test.expCode, w.Code)
			switch {
			case test.expJSON:
				assert.JSONEq(test.expBody, string(body))
			case test.expContent != "":
				assert.Contains(string(body), test.expContent)
			case test.expBody != "":
				assert.Equal(test.expBody, string(body))
			}
		})
	}
}

func TestNewRouterRequiresStatus(t *testing.T) {
	_, err := diag.NewRouter(diag.RouterConfig{})
	assert.Error(t, err)
}
