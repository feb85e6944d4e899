package distill

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/provider"
	"github.com/sells-group/distill-cli/internal/transfer"
)

// Stage is a step of a distillation run. Stages only move forward.
type Stage int

const (
	StageIdle Stage = iota
	StageSeeding
	StageLearning
	StageBulkGenerating
	StageValidating
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSeeding:
		return "seeding"
	case StageLearning:
		return "learning"
	case StageBulkGenerating:
		return "bulk_generating"
	case StageValidating:
		return "validating"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Options tune an Orchestrator. Zero values select the defaults.
type Options struct {
	MaxSeeds          int
	BatchSize         int
	SampleRatio       float64
	SeedRetryAttempts int
	Scorer            LearningScorer
	Estimator         QualityEstimator
	// Engine mines knowledge patterns during learning. Nil creates one.
	Engine *transfer.Engine
	// Adaptive, when set, moves pattern confidence toward validation scores.
	Adaptive *transfer.AdaptiveManager
	// OnStage observes every stage transition.
	OnStage func(Stage)
}

// Orchestrator runs one teacher/student pair through a full distillation.
type Orchestrator struct {
	teacher   *Teacher
	student   *Student
	validator *Validator
	engine    *transfer.Engine
	adaptive  *transfer.AdaptiveManager
	ratio     float64
	onStage   func(Stage)
}

// NewOrchestrator wires a teacher and student provider into an Orchestrator.
func NewOrchestrator(teacher, student provider.Provider, opts Options) *Orchestrator {
	if opts.SampleRatio <= 0 {
		opts.SampleRatio = DefaultSampleRatio
	}
	if opts.Engine == nil {
		opts.Engine = transfer.NewEngine()
	}
	return &Orchestrator{
		teacher:   NewTeacher(teacher, opts.MaxSeeds, opts.SeedRetryAttempts),
		student:   NewStudent(student, opts.BatchSize, opts.Scorer, opts.Estimator),
		validator: NewValidator(teacher),
		engine:    opts.Engine,
		adaptive:  opts.Adaptive,
		ratio:     opts.SampleRatio,
		onStage:   opts.OnStage,
	}
}

// Teacher returns the orchestrator's teacher.
func (o *Orchestrator) Teacher() *Teacher { return o.teacher }

// Student returns the orchestrator's student.
func (o *Orchestrator) Student() *Student { return o.student }

// Engine returns the knowledge transfer engine.
func (o *Orchestrator) Engine() *transfer.Engine { return o.engine }

// GenerateDataset runs seeding, learning, bulk generation and validation for
// req. Provider failures degrade the result instead of failing it; only an
// invalid request returns an error.
func (o *Orchestrator) GenerateDataset(ctx context.Context, req model.GenerationRequest) (*model.GenerationResponse, error) {
	return o.GenerateDatasetWithPatterns(ctx, req, nil)
}

// GenerateDatasetWithPatterns is GenerateDataset with cached patterns from an
// earlier run on the same keywords. Cached patterns guide the student under
// every strategy; freshly mined ones only under feature_based and hybrid.
// Guidance never carries over from a previous request.
func (o *Orchestrator) GenerateDatasetWithPatterns(ctx context.Context, req model.GenerationRequest, cached []model.KnowledgePattern) (*model.GenerationResponse, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, eris.Wrap(err, "distill: generate dataset")
	}

	start := time.Now()
	id := uuid.NewString()
	log := zap.L().With(
		zap.String("run_id", id),
		zap.String("teacher", o.teacher.Provider().Name()),
		zap.String("student", o.student.Provider().Name()),
		zap.String("data_type", string(req.DataType)),
		zap.Int("quantity", req.Quantity),
	)
	log.Info("distill: starting dataset generation", zap.String("strategy", string(req.Strategy)))

	stage := StageIdle
	advance := func(next Stage) {
		if next <= stage {
			return
		}
		log.Info("distill: stage transition",
			zap.Stringer("from", stage),
			zap.Stringer("to", next),
			zap.Duration("elapsed", time.Since(start)),
		)
		stage = next
		if o.onStage != nil {
			o.onStage(next)
		}
	}

	advance(StageSeeding)
	examples, seedStats := o.teacher.GenerateSeedData(ctx, req)

	advance(StageLearning)
	o.student.ResetGuidance()
	o.student.ApplyPatterns(cached)
	learning := o.student.LearnFromTeacher(examples)
	bundle := o.engine.TransferKnowledge(examples, o.student.Provider().Describe())
	if req.Strategy == model.StrategyFeatureBased || req.Strategy == model.StrategyHybrid {
		o.student.ApplyPatterns(bundle.Patterns)
	}
	if req.Strategy == model.StrategyHybrid {
		o.student.Guide(bundle.Instructions.Lines())
	}

	advance(StageBulkGenerating)
	generated, bulkStats := o.student.GenerateBulkData(ctx, req)

	advance(StageValidating)
	contents := make([]string, len(generated))
	for i, g := range generated {
		contents[i] = g.Content
	}
	validation := o.validator.ValidateBatch(ctx, contents, o.ratio)

	patterns := bundle.Patterns
	if o.adaptive != nil && len(patterns) > 0 && validation.SampleSize > 0 {
		feedback := make([]transfer.Feedback, len(patterns))
		for i, p := range patterns {
			feedback[i] = transfer.Feedback{PatternID: p.PatternID, Performance: validation.AverageQuality}
		}
		patterns = o.adaptive.AdaptPatterns(patterns, feedback)
	}

	tracker := o.engine.Tracker()
	tracker.TrackTransfer(learning.Confidence, validation.AverageQuality, len(patterns), bundle.TransferTime)
	tracker.TrackStudent(o.student.Provider().Name(), validation.AverageQuality)

	data := make([]model.DataItem, 0, len(examples)+len(generated))
	for _, ex := range examples {
		data = append(data, model.DataItem{Content: ex.Output, Source: model.SourceTeacher, Quality: ex.Confidence})
	}
	for _, g := range generated {
		data = append(data, model.DataItem{Content: g.Content, Source: model.SourceStudent, Quality: g.Quality})
	}

	advance(StageDone)
	resp := &model.GenerationResponse{
		ID:             id,
		Data:           data,
		QualityScore:   validation.AverageQuality,
		Cost:           seedStats.Cost + bulkStats.Cost + validation.Cost,
		ModelUsed:      o.teacher.Provider().Name() + " + " + o.student.Provider().Name(),
		GenerationTime: time.Since(start),
		Metadata: model.ResponseMetadata{
			TeacherExamples:       len(examples),
			StudentGenerated:      len(generated),
			LearningConfidence:    learning.Confidence,
			ValidationSampleSize:  validation.SampleSize,
			MeetsQualityThreshold: validation.MeetsThreshold,
			MeetsRequestThreshold: validation.AverageQuality >= req.QualityThreshold,
			PatternsExtracted:     bundle.Metrics.PatternsExtracted,
			Coverage:              bundle.Metrics.Coverage,
			TokensUsed:            seedStats.Tokens + bulkStats.Tokens + validation.Tokens,
			FailedCalls:           seedStats.Failed + bulkStats.Failed + validation.Failed,
			TeacherCost:           seedStats.Cost + validation.Cost,
			StudentCost:           bulkStats.Cost,
		},
		Patterns: patterns,
	}

	if err := ctx.Err(); err != nil {
		log.Warn("distill: generation finished after cancellation", zap.Error(err))
	}
	log.Info("distill: dataset generation complete",
		zap.Int("items", len(data)),
		zap.Float64("quality", resp.QualityScore),
		zap.Float64("cost_usd", resp.Cost),
		zap.Duration("elapsed", resp.GenerationTime),
	)
	return resp, nil
}
