package pipeline

import (
	"context"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 1024

// Result is the outcome of one inference.
type Result struct {
	Crop       string    `json:"crop"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	Warnings   []Warning `json:"warnings,omitempty"`
	Cached     bool      `json:"-"`
}

type cachedPrediction struct {
	crop       string
	classID    int
	confidence float64
}

// Pipeline runs readings through scaler, classifier and label encoder.
// A Pipeline built with Disabled answers every call with the load error.
type Pipeline struct {
	artifacts *Artifacts
	loadErr   error
	fields    []FieldSpec
	rules     []SanityRule
	cache     *lru.Cache[string, cachedPrediction]
	logger    *zap.Logger
}

type Option func(*Pipeline)

// WithFields replaces the form ranges used for validation.
func WithFields(fields []FieldSpec) Option {
	return func(p *Pipeline) { p.fields = fields }
}

func WithSanityRules(rules []SanityRule) Option {
	return func(p *Pipeline) { p.rules = rules }
}

// WithCacheSize bounds the memoised results; 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(p *Pipeline) {
		if n <= 0 {
			p.cache = nil
			return
		}
		c, err := lru.New[string, cachedPrediction](n)
		if err == nil {
			p.cache = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(artifacts *Artifacts, opts ...Option) *Pipeline {
	p := &Pipeline{
		artifacts: artifacts,
		fields:    DefaultFields(),
		rules:     DefaultSanityRules(),
		logger:    zap.NewNop(),
	}
	WithCacheSize(defaultCacheSize)(p)
	for _, opt := range opts {
		opt(p)
	}
	if artifacts == nil && p.loadErr == nil {
		p.loadErr = &ArtifactError{Artifact: "artifacts", Err: ErrArtifactLoad}
	}
	return p
}

// Disabled builds a pipeline whose every prediction reports loadErr.
func Disabled(loadErr error, opts ...Option) *Pipeline {
	p := New(nil, opts...)
	if loadErr != nil {
		p.loadErr = loadErr
	}
	return p
}

// Load reads the artifacts and returns a ready pipeline, or a disabled one
// together with the load error.
func Load(files ArtifactFiles, contract FeatureContract, opts ...Option) (*Pipeline, error) {
	artifacts, err := LoadArtifacts(files, contract)
	if err != nil {
		return Disabled(err, opts...), err
	}
	return New(artifacts, opts...), nil
}

func (p *Pipeline) Ready() bool {
	return p.artifacts != nil
}

func (p *Pipeline) LoadError() error {
	return p.loadErr
}

func (p *Pipeline) Artifacts() *Artifacts {
	return p.artifacts
}

func (p *Pipeline) Fields() []FieldSpec {
	return append([]FieldSpec(nil), p.fields...)
}

// Predict validates the readings, assembles them in contract order and runs
// the inference.
func (p *Pipeline) Predict(ctx context.Context, r Readings) (Result, error) {
	if !p.Ready() {
		return Result{}, p.loadErr
	}
	if err := Validate(r, p.fields); err != nil {
		return Result{}, err
	}
	res, err := p.PredictVector(ctx, p.artifacts.contract.Assemble(r))
	if err != nil {
		return Result{}, err
	}
	res.Warnings = CheckSanity(r, p.rules)
	return res, nil
}

// PredictVector feeds a raw feature vector straight to the scaler. The
// vector must already be in contract order.
func (p *Pipeline) PredictVector(ctx context.Context, vector []float64) (Result, error) {
	if !p.Ready() {
		return Result{}, p.loadErr
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &PredictionError{Stage: "request", Err: err}
	}

	key := vectorKey(vector)
	if p.cache != nil {
		if hit, ok := p.cache.Get(key); ok {
			return Result{Crop: hit.crop, ClassID: hit.classID, Confidence: hit.confidence, Cached: true}, nil
		}
	}

	scaled, err := p.artifacts.scaler.Transform(vector)
	if err != nil {
		return Result{}, &PredictionError{Stage: "scale", Err: err}
	}
	classID, confidence, err := p.artifacts.model.Predict(scaled)
	if err != nil {
		return Result{}, &PredictionError{Stage: "classify", Err: err}
	}
	crop, err := p.artifacts.encoder.InverseTransform(classID)
	if err != nil {
		return Result{}, &PredictionError{Stage: "decode", Err: err}
	}

	if p.cache != nil {
		p.cache.Add(key, cachedPrediction{crop: crop, classID: classID, confidence: confidence})
	}
	p.logger.Debug("prediction",
		zap.Float64s("features", vector),
		zap.Int("class_id", classID),
		zap.String("crop", crop),
		zap.Float64("confidence", confidence))
	return Result{Crop: crop, ClassID: classID, Confidence: confidence}, nil
}

func vectorKey(vector []float64) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
