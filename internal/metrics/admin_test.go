package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReloader struct {
	version uint64
	err     error
}

func (f *fakeReloader) Reload() (uint64, error) {
	if f.err != nil {
		return f.version, f.err
	}
	f.version++
	return f.version, nil
}

func newAdmin(t *testing.T) (*Admin, *fakeReloader) {
	t.Helper()
	faults := faultlog.New(zap.NewNop(), 8)
	scripts := &fakeReloader{version: 1}
	return &Admin{
		Metrics: New(Sources{Faults: faults}),
		Faults:  faults,
		Scripts: scripts,
		Log:     zap.NewNop(),
	}, scripts
}

func serve(a *Admin, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	a, _ := newAdmin(t)
	rec := serve(a, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	a.Health = func() error { return errors.New("tick loop stalled") }
	rec = serve(a, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "stalled")
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newAdmin(t)
	rec := serve(a, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "realm_tick_overruns_total")
	assert.Contains(t, rec.Body.String(), "realm_frames_in_total")
}

func TestFaultsEndpointFiltersByKind(t *testing.T) {
	a, _ := newAdmin(t)
	a.Faults.Fault(faultlog.KindScript, 0, 9, errors.New("nil index"))
	a.Faults.Fault(faultlog.KindPersistence, 0, 0, errors.New("link down"))

	rec := serve(a, http.MethodGet, "/faults")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []faultlog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, faultlog.KindScript, all[0].Kind)

	rec = serve(a, http.MethodGet, "/faults?kind=persistence")
	var some []faultlog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &some))
	require.Len(t, some, 1)
	assert.Equal(t, "link down", some[0].Message)

	rec = serve(a, http.MethodGet, "/faults?kind=frame")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestScriptReloadEndpoint(t *testing.T) {
	a, scripts := newAdmin(t)

	rec := serve(a, http.MethodGet, "/scripts/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(a, http.MethodPost, "/scripts/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":2}`, rec.Body.String())

	scripts.err = errors.New("goblin.lua:3: syntax error")
	rec = serve(a, http.MethodPost, "/scripts/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"version":2,"error":"goblin.lua:3: syntax error"}`, rec.Body.String())
}
