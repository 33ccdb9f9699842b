package http

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"croprec/pipeline"
	"croprec/recommend"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("index.html").
	Funcs(template.FuncMap{"percent": percent}).
	ParseFS(templateFS, "templates/index.html"))

func percent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 0, 64) + "%"
}

type formField struct {
	pipeline.FieldSpec
	Value string
	Error string
}

type pageData struct {
	Ready     bool
	LoadError string
	Soil      []formField
	Climate   []formField
	Result    *recommend.Recommendation
	Error     string
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	fields := h.svc.Fields()
	h.renderPage(w, r, http.StatusOK, h.page(fields, pipeline.DefaultReadings(fields), nil))
}

func (h *handlers) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	fields := h.svc.Fields()
	if err := r.ParseForm(); err != nil {
		data := h.page(fields, pipeline.DefaultReadings(fields), nil)
		data.Error = "could not read the form"
		h.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	readings, raw, parseErr := readingsFromForm(r, fields)
	if parseErr != nil {
		data := h.page(fields, readings, parseErr.Fields)
		overlayRaw(&data, raw)
		data.Error = parseErr.Error()
		h.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	rec, err := h.svc.Recommend(r.Context(), readings, recommend.SourceWeb)
	if err != nil {
		var verr *pipeline.ValidationError
		var problems []pipeline.FieldError
		if errors.As(err, &verr) {
			problems = verr.Fields
		}
		status, msg := predictStatus(err)
		data := h.page(fields, readings, problems)
		data.Error = msg
		h.renderPage(w, r, status, data)
		return
	}

	data := h.page(fields, readings, nil)
	data.Result = rec
	h.renderPage(w, r, http.StatusOK, data)
}

func (h *handlers) page(fields []pipeline.FieldSpec, values pipeline.Readings, problems []pipeline.FieldError) pageData {
	data := pageData{Ready: h.svc.Ready()}
	if err := h.svc.LoadError(); err != nil {
		data.LoadError = err.Error()
	}
	msgs := make(map[string]string, len(problems))
	for _, p := range problems {
		msgs[p.Field] = p.Message
	}
	for _, f := range fields {
		ff := formField{
			FieldSpec: f,
			Value:     strconv.FormatFloat(values.Value(f.Feature), 'f', -1, 64),
			Error:     msgs[f.Name],
		}
		if f.Group == "climate" {
			data.Climate = append(data.Climate, ff)
		} else {
			data.Soil = append(data.Soil, ff)
		}
	}
	return data
}

func (h *handlers) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("render page failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// readingsFromForm parses every field; blank or non-numeric inputs are
// reported together. raw keeps what the user typed.
func readingsFromForm(r *http.Request, fields []pipeline.FieldSpec) (pipeline.Readings, map[string]string, *pipeline.ValidationError) {
	var readings pipeline.Readings
	var problems []pipeline.FieldError
	raw := make(map[string]string, len(fields))
	for _, f := range fields {
		s := strings.TrimSpace(r.PostFormValue(f.Name))
		raw[f.Name] = s
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, pipeline.FieldError{Field: f.Name, Message: "must be a number"})
			_ = readings.Set(f.Feature, f.Default)
			continue
		}
		_ = readings.Set(f.Feature, v)
	}
	if len(problems) > 0 {
		return readings, raw, &pipeline.ValidationError{Fields: problems}
	}
	return readings, raw, nil
}

func overlayRaw(data *pageData, raw map[string]string) {
	for _, group := range [][]formField{data.Soil, data.Climate} {
		for i := range group {
			if s, ok := raw[group[i].Name]; ok {
				group[i].Value = s
			}
		}
	}
}
