package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/device"
	"nuha.dev/geolog/internal/gpx"
	"nuha.dev/geolog/internal/ingest"
	"nuha.dev/geolog/internal/query"
	"nuha.dev/geolog/internal/routes"
	"nuha.dev/geolog/internal/util"
)

// Api is the HTTP surface: direct submission, queries, named routes and
// track export/import. All state lives behind the pipeline and query
// service.
type Api struct {
	pipeline *ingest.Pipeline
	query    *query.Service
	routes   *routes.Store
	stream   http.Handler
	validate *validator.Validate
	logger   log.Logger
}

func NewApi(pipeline *ingest.Pipeline, qs *query.Service, rs *routes.Store, stream http.Handler) *Api {
	a := &Api{pipeline: pipeline, query: qs, routes: rs, stream: stream}
	a.validate = validator.New()
	a.logger = log.DefaultLogger
	a.logger.Context = log.NewContext(nil).Str("module", "webapp").Value()
	return a
}

func (a *Api) Mount(r chi.Router) {
	r.Post("/gps", a.postGPS)
	r.Get("/api/latest", a.getLatest)
	r.Get("/api/coords", a.getCoords)
	r.Get("/routes", a.listRoutes)
	r.Post("/routes/save", a.saveRoute)
	r.Get("/routes/load/{name}", a.loadRoute)
	r.Delete("/routes/delete/{name}", a.deleteRoute)
	r.Get("/export/csv", a.exportCSV)
	r.Get("/export/gpx", a.exportGPX)
	r.Post("/import/csv", a.importCSV)
	r.Post("/import/gpx", a.importGPX)
	if a.stream != nil {
		r.Get("/stream", a.stream.ServeHTTP)
	}
}

type submitRequest struct {
	Mac            string   `json:"mac" validate:"required"`
	Latitude       *float64 `json:"latitude" validate:"required"`
	Longitude      *float64 `json:"longitude" validate:"required"`
	LoggingEnabled *bool    `json:"logging_enabled"`
}

type submitResponse struct {
	Ok  bool   `json:"ok"`
	Id  string `json:"id"`
	Mac string `json:"mac"`
}

func (a *Api) postGPS(w http.ResponseWriter, r *http.Request) {
	req := submitRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err = a.validate.Struct(req)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "missing mac or coordinates")
		return
	}
	logging := true
	if req.LoggingEnabled != nil {
		logging = *req.LoggingEnabled
	}
	fix, err := a.pipeline.Submit(ingest.Submission{
		Mac:       req.Mac,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Logging:   logging,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrMissingDevice) {
			util.JsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		util.JsonError(w, http.StatusInternalServerError, "submission failed")
		return
	}
	util.JsonWrite(w, submitResponse{Ok: true, Id: util.GenUUID(), Mac: string(fix.DeviceID)})
}

type fixResponse struct {
	Mac       string  `json:"mac"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp string  `json:"timestamp"`
}

func fixToResponse(f device.Fix) fixResponse {
	return fixResponse{
		Mac:       string(f.DeviceID),
		Lat:       f.Lat,
		Lng:       f.Lng,
		Timestamp: f.Time.UTC().Format("2006-01-02 15:04:05"),
	}
}

func (a *Api) getLatest(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if mac == "" {
		util.JsonError(w, http.StatusBadRequest, "MAC address is required")
		return
	}
	fix, ok := a.query.Latest(mac)
	if !ok {
		util.JsonError(w, http.StatusNotFound, "no position known for device")
		return
	}
	util.JsonWrite(w, fixToResponse(fix))
}

func dayParam(r *http.Request) string {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	return date
}

func (a *Api) getCoords(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if mac == "" {
		util.JsonError(w, http.StatusBadRequest, "MAC address is required")
		return
	}
	fixes, ok := a.history(w, mac, dayParam(r))
	if !ok {
		return
	}
	out := make([]fixResponse, 0, len(fixes))
	for _, f := range fixes {
		out = append(out, fixToResponse(f))
	}
	util.JsonWrite(w, out)
}

// history wraps the query call; on failure it writes the error response and
// reports false.
func (a *Api) history(w http.ResponseWriter, mac string, day string) ([]device.Fix, bool) {
	fixes, err := a.query.History(mac, day)
	if err != nil {
		if errors.Is(err, query.ErrBadDay) {
			util.JsonError(w, http.StatusBadRequest, err.Error())
		} else {
			a.logger.Error().Err(err).Str("mac", mac).Str("day", day).Msg("history read failed")
			util.JsonError(w, http.StatusInternalServerError, "history read failed")
		}
		return nil, false
	}
	if fixes == nil {
		fixes = []device.Fix{}
	}
	return fixes, true
}

func (a *Api) listRoutes(w http.ResponseWriter, r *http.Request) {
	names, err := a.routes.List()
	if err != nil {
		util.JsonError(w, http.StatusInternalServerError, "unable to list routes")
		return
	}
	util.JsonWrite(w, names)
}

type saveRouteRequest struct {
	Name   string          `json:"name"`
	Coords json.RawMessage `json:"coords"`
}

func (a *Api) saveRoute(w http.ResponseWriter, r *http.Request) {
	req := saveRouteRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err = a.routes.Save(req.Name, req.Coords)
	if err != nil {
		if errors.Is(err, routes.ErrMissingData) || errors.Is(err, routes.ErrInvalidName) {
			util.JsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		util.JsonError(w, http.StatusInternalServerError, "unable to save route")
		return
	}
	util.JsonWrite(w, map[string]bool{"ok": true})
}

func (a *Api) loadRoute(w http.ResponseWriter, r *http.Request) {
	coords, err := a.routes.Load(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, routes.ErrNotFound) {
			util.JsonError(w, http.StatusNotFound, err.Error())
			return
		}
		util.JsonError(w, http.StatusInternalServerError, "unable to load route")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(coords)
}

func (a *Api) deleteRoute(w http.ResponseWriter, r *http.Request) {
	removed, err := a.routes.Delete(chi.URLParam(r, "name"))
	if err != nil {
		util.JsonError(w, http.StatusInternalServerError, "unable to delete route")
		return
	}
	if !removed {
		util.JsonError(w, http.StatusNotFound, "route not found")
		return
	}
	util.JsonWrite(w, map[string]bool{"ok": true})
}

func (a *Api) exportCSV(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if mac == "" {
		util.JsonError(w, http.StatusBadRequest, "MAC address is required")
		return
	}
	day := dayParam(r)
	fixes, ok := a.history(w, mac, day)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="gps_%s.csv"`, day))
	var b strings.Builder
	for _, f := range fixes {
		b.WriteString(f.Time.UTC().Format("2006-01-02 15:04:05"))
		b.WriteByte(',')
		b.WriteString(device.FormatCoord(f.Lat))
		b.WriteByte(',')
		b.WriteString(device.FormatCoord(f.Lng))
		b.WriteByte(',')
		b.WriteString(string(f.DeviceID))
		b.WriteByte('\n')
	}
	_, _ = w.Write([]byte(b.String()))
}

func (a *Api) exportGPX(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if mac == "" {
		util.JsonError(w, http.StatusBadRequest, "MAC address is required")
		return
	}
	fixes, ok := a.history(w, mac, dayParam(r))
	if !ok {
		return
	}
	points := make([]gpx.Waypoint, 0, len(fixes))
	for _, f := range fixes {
		points = append(points, gpx.Waypoint{Lat: f.Lat, Lng: f.Lng})
	}
	doc, err := gpx.Marshal(points)
	if err != nil {
		util.JsonError(w, http.StatusInternalServerError, "unable to render gpx")
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	_, _ = w.Write(doc)
}

func (a *Api) importCSV(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil || !strings.HasSuffix(header.Filename, ".csv") {
		util.JsonError(w, http.StatusBadRequest, "invalid or missing CSV file")
		return
	}
	defer file.Close()
	points, err := gpx.ParseCSV(file)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "error parsing CSV")
		return
	}
	util.JsonWrite(w, points)
}

func (a *Api) importGPX(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil || filepath.Ext(header.Filename) != ".gpx" {
		util.JsonError(w, http.StatusBadRequest, "invalid or missing GPX file")
		return
	}
	defer file.Close()
	points, err := gpx.ParseGPX(file)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "error parsing GPX")
		return
	}
	util.JsonWrite(w, points)
}
