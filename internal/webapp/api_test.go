package webapp_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"nuha.dev/geolog/internal/filter"
	"nuha.dev/geolog/internal/ingest"
	"nuha.dev/geolog/internal/livecache"
	"nuha.dev/geolog/internal/query"
	"nuha.dev/geolog/internal/routes"
	"nuha.dev/geolog/internal/seglog"
	"nuha.dev/geolog/internal/sublist"
	"nuha.dev/geolog/internal/webapp"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	segman, err := seglog.NewManager(&seglog.Config{Dir: t.TempDir(), MaxPoints: 500})
	require.NoError(t, err)
	routeStore, err := routes.NewStore(t.TempDir())
	require.NoError(t, err)

	cache := livecache.New()
	subs := sublist.NewSublistMap()
	pipeline := ingest.NewPipeline(filter.New(0.00001), segman, cache, subs)
	api := webapp.NewApi(pipeline, query.NewService(cache, segman), routeStore, nil)

	r := chi.NewRouter()
	api.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return res
}

func TestSubmitThenLatestAcrossSeparatorStyles(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.5,"longitude":22.4}`)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res2, err := http.Get(srv.URL + "/api/latest?mac=aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)

	var got struct {
		Mac string  `json:"mac"`
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&got))
	require.Equal(t, "AA-BB-CC-DD-EE-FF", got.Mac)
	require.Equal(t, 37.5, got.Lat)
	require.Equal(t, 22.4, got.Lng)
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"latitude":37.5,"longitude":22.4}`,
		`{"mac":"AA:BB","longitude":22.4}`,
		`{"mac":"AA:BB","latitude":37.5}`,
		`{"mac":"AA:BB","latitude":"north","longitude":22.4}`,
		`not json`,
	} {
		res := postJSON(t, srv.URL+"/gps", body)
		require.Equal(t, http.StatusBadRequest, res.StatusCode, "body: %s", body)
		res.Body.Close()
	}
}

func TestLatestUnknownDevice(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/api/latest?mac=11-22-33-44-55-66")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestLoggingDisabledSubmissionNotInHistory(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.5,"longitude":22.4,"logging_enabled":false}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res2, err := http.Get(srv.URL + "/api/coords?mac=AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)

	var got []json.RawMessage
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&got))
	require.Empty(t, got)

	// but the live view still knows the device
	res3, err := http.Get(srv.URL + "/api/latest?mac=AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	defer res3.Body.Close()
	require.Equal(t, http.StatusOK, res3.StatusCode)
}

func TestHistoryReturnsLoggedFixes(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.5,"longitude":22.4}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	res = postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.6,"longitude":22.5}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res2, err := http.Get(srv.URL + "/api/coords?mac=aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
	defer res2.Body.Close()

	var got []struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&got))
	require.Len(t, got, 2)
	require.Equal(t, 37.5, got[0].Lat)
	require.Equal(t, 37.6, got[1].Lat)
}

func TestHistoryRejectsBadDate(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/api/coords?mac=AA:BB&date=06/01/2025")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRouteLifecycle(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/routes/save", `{"name":"evening_walk","coords":[{"lat":37.5,"lng":22.4}]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res2, err := http.Get(srv.URL + "/routes")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.NewDecoder(res2.Body).Decode(&names))
	res2.Body.Close()
	require.Equal(t, []string{"evening_walk"}, names)

	res3, err := http.Get(srv.URL + "/routes/load/evening_walk")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res3.StatusCode)
	res3.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/routes/delete/evening_walk", nil)
	require.NoError(t, err)
	res4, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res4.StatusCode)
	res4.Body.Close()

	res5, err := http.Get(srv.URL + "/routes/load/evening_walk")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res5.StatusCode)
	res5.Body.Close()
}

func TestSaveRouteRejectsBadName(t *testing.T) {
	srv := newTestServer(t)
	res := postJSON(t, srv.URL+"/routes/save", `{"name":"../../etc/passwd","coords":[1]}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.5,"longitude":22.4}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res2, err := http.Get(srv.URL + "/export/csv?mac=AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)
	require.Equal(t, "text/csv", res2.Header.Get("Content-Type"))

	body, err := io.ReadAll(res2.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), ",37.5,22.4,AA-BB-CC-DD-EE-FF\n")
}

func TestExportGPX(t *testing.T) {
	srv := newTestServer(t)

	res := postJSON(t, srv.URL+"/gps", `{"mac":"AA:BB:CC:DD:EE:FF","latitude":37.5,"longitude":22.4}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res2, err := http.Get(srv.URL + "/export/gpx?mac=AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)
	require.Equal(t, "application/gpx+xml", res2.Header.Get("Content-Type"))
}
