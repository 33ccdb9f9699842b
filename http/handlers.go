package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"croprec/db"
	"croprec/monitoring"
	"croprec/pipeline"
	"croprec/recommend"
)

type handlers struct {
	svc    *recommend.Service
	hub    *monitoring.Hub
	logger *zap.Logger
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /predict", h.handleFormPredict)
	mux.HandleFunc("POST /api/predict", h.handleAPIPredict)
	mux.HandleFunc("GET /api/fields", h.handleFields)
	mux.HandleFunc("GET /api/history", h.handleHistory)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/predictions", h.hub.HandleWebSocket)
	}
}

type healthResponse struct {
	Status           string   `json:"status"`
	Artifacts        bool     `json:"artifacts"`
	Error            string   `json:"error,omitempty"`
	Features         []string `json:"features,omitempty"`
	ExpectedFeatures int      `json:"expected_features,omitempty"`
	Classes          int      `json:"classes,omitempty"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Artifacts: h.svc.Ready()}
	status := http.StatusOK
	if !resp.Artifacts {
		resp.Status = "degraded"
		if err := h.svc.LoadError(); err != nil {
			resp.Error = err.Error()
		}
		status = http.StatusServiceUnavailable
	} else if a := h.svc.Artifacts(); a != nil {
		resp.Features = a.Contract().Strings()
		resp.ExpectedFeatures = a.ExpectedFeatures()
		resp.Classes = len(a.Classes())
	}
	respondJSONStatus(w, status, resp)
}

func (h *handlers) handleFields(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.svc.Fields())
}

type statsResponse struct {
	monitoring.StatsSnapshot
	Crops map[string]int `json:"crops"`
}

// handleStats reports the counters plus recommendations per crop. A history
// read failure leaves Crops empty.
func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{StatsSnapshot: h.svc.Stats()}
	crops, err := h.svc.CropCounts(r.Context())
	if err != nil {
		h.logger.Warn("count predictions failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		crops = map[string]int{}
	}
	resp.Crops = crops
	respondJSON(w, resp)
}

func (h *handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := db.DefaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	records, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("load history failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history unavailable", nil)
		return
	}
	respondJSON(w, map[string]any{"count": len(records), "predictions": records})
}

// handleAPIPredict takes a flat JSON object of readings keyed by field name.
func (h *handlers) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	var body map[string]*float64
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON object of numeric readings", nil)
		return
	}
	values, err := numericValues(body)
	if err != nil {
		h.respondPredictError(w, err)
		return
	}
	readings, err := pipeline.ReadingsFromValues(values, h.svc.Fields())
	if err != nil {
		h.respondPredictError(w, err)
		return
	}

	rec, err := h.svc.Recommend(r.Context(), readings, recommend.SourceAPI)
	if err != nil {
		h.respondPredictError(w, err)
		return
	}
	respondJSON(w, rec)
}

// numericValues rejects null readings, which the decoder leaves nil.
func numericValues(body map[string]*float64) (map[string]float64, error) {
	values := make(map[string]float64, len(body))
	var problems []pipeline.FieldError
	for key, v := range body {
		if v == nil {
			problems = append(problems, pipeline.FieldError{Field: key, Message: "must be a number"})
			continue
		}
		values[key] = *v
	}
	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool { return problems[i].Field < problems[j].Field })
		return nil, &pipeline.ValidationError{Fields: problems}
	}
	return values, nil
}

func (h *handlers) respondPredictError(w http.ResponseWriter, err error) {
	status, msg := predictStatus(err)
	var verr *pipeline.ValidationError
	var fields []pipeline.FieldError
	if errors.As(err, &verr) {
		fields = verr.Fields
	}
	respondError(w, status, msg, fields)
}

// predictStatus maps a recommendation failure onto a status and a message
// fit for the user.
func predictStatus(err error) (int, string) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, pipeline.ErrArtifactLoad):
		return http.StatusServiceUnavailable, "model files could not be loaded; check the saved_models folder"
	default:
		return http.StatusUnprocessableEntity, "prediction error: " + err.Error()
	}
}

type errorResponse struct {
	Error  string                `json:"error"`
	Fields []pipeline.FieldError `json:"fields,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string, fields []pipeline.FieldError) {
	respondJSONStatus(w, status, errorResponse{Error: msg, Fields: fields})
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func imageServer(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
