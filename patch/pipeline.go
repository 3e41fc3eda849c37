package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hispeedtriggercam/classpatch/classfile"
	"github.com/hispeedtriggercam/classpatch/telemetry"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Container holds named entries, typically the files of a jar.
type Container interface {
	Get(name string) ([]byte, bool)
	Put(name string, data []byte)
}

// EncoderChange rewrites the iconst argument pushed right before a call to
// Method, e.g. setVideoEncoder(2) into setVideoEncoder(5).
type EncoderChange struct {
	Method string
	From   int
	To     int
}

type Options struct {
	// Target is the entry name of the class inside the container.
	Target string

	OldValue int32
	NewValue int32

	// Replacement, when set, replaces the whole class before any byte patch.
	Replacement     []byte
	ReplacementName string

	Encoder *EncoderChange
	Text    []TextPair

	// Scoped confines the integer search to the constant pool's Integer
	// entries and the encoder search to method bytecode.
	Scoped bool
}

// Validate rejects bad options before the container is read.
func (o *Options) Validate() error {
	if o.Target == "" {
		return WrapConfig("no target entry")
	}
	if o.Encoder != nil {
		if o.Encoder.Method == "" {
			return WrapConfig("encoder change needs a method name")
		}
		if _, ok := classfile.IconstOpcode(o.Encoder.From); !ok {
			return WrapConfig("encoder value %d outside 0..%d", o.Encoder.From, classfile.MaxIconst)
		}
		if _, ok := classfile.IconstOpcode(o.Encoder.To); !ok {
			return WrapConfig("encoder value %d outside 0..%d", o.Encoder.To, classfile.MaxIconst)
		}
	}
	for _, pair := range o.Text {
		if err := pair.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Pipeline patches one class: load, optional whole replacement, the integer
// constant, the optional encoder argument, text fingerprints, commit. The
// integer patch is the only mandatory edit; the others warn and move on.
type Pipeline struct {
	opts   Options
	tracer trace.Tracer
	log    commonlog.Logger
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		opts:   opts,
		tracer: telemetry.Tracer(),
		log:    commonlog.GetLogger("classpatch.patch"),
	}
}

// run is the state of a single Run call.
type run struct {
	*Pipeline
	container Container
	report    *Report
	buf       []byte
}

// Run applies the configured patches to the target entry of c. On a fatal
// error c is left untouched and the partial report is returned with it.
func (p *Pipeline) Run(ctx context.Context, c Container) (*Report, error) {
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "patch",
		trace.WithAttributes(attribute.String("classpatch.target", p.opts.Target)))
	defer span.End()

	r := &run{
		Pipeline:  p,
		container: c,
		report:    &Report{Target: p.opts.Target},
	}

	stages := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageLoad, r.load},
		{StageWholeReplace, r.wholeReplace},
		{StageNumeric, r.numeric},
		{StageEncoder, r.encoder},
		{StageText, r.text},
		{StageCommit, r.commit},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		if err := r.runStage(ctx, s.stage, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return r.report, err
		}
	}

	span.SetAttributes(
		attribute.Int("classpatch.size", r.report.Size),
		attribute.Int("classpatch.warnings", len(r.report.Warnings())),
	)
	return r.report, nil
}

func (r *run) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "patch."+string(stage))
	defer span.End()

	before := len(r.report.Results)
	err := fn(ctx)
	for _, res := range r.report.Results[before:] {
		span.AddEvent(string(res.Outcome), trace.WithAttributes(
			attribute.Int("offset", res.Offset),
			attribute.String("detail", res.Detail),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s stage failed: %w", stage, err)
	}
	return nil
}

func (r *run) record(stage Stage, outcome Outcome, offset int, format string, args ...any) {
	res := StageResult{
		Stage:   stage,
		Outcome: outcome,
		Offset:  offset,
		Detail:  fmt.Sprintf(format, args...),
	}
	r.report.add(res)

	switch outcome {
	case OutcomeApplied:
		r.log.Noticef("%s", res)
	default:
		r.log.Infof("%s", res)
	}
}

func (r *run) warn(stage Stage, err error) {
	res := StageResult{
		Stage:   stage,
		Outcome: OutcomeWarned,
		Offset:  -1,
		Detail:  err.Error(),
		Err:     err,
	}
	r.report.add(res)
	r.log.Warningf("%s", res)
}

func (r *run) load(ctx context.Context) error {
	data, ok := r.container.Get(r.opts.Target)
	if !ok {
		return WrapMissingEntry(r.opts.Target)
	}
	r.buf = bytes.Clone(data)
	r.record(StageLoad, OutcomeApplied, -1, "%s (%d bytes)", r.opts.Target, len(r.buf))
	return nil
}

func (r *run) wholeReplace(ctx context.Context) error {
	if r.opts.Replacement == nil {
		r.record(StageWholeReplace, OutcomeSkipped, -1, "keeping original class")
		return nil
	}
	r.buf = bytes.Clone(r.opts.Replacement)
	name := r.opts.ReplacementName
	if name == "" {
		name = "replacement class"
	}
	r.record(StageWholeReplace, OutcomeApplied, -1, "replaced %s with %s (%d bytes)", r.opts.Target, name, len(r.buf))
	return nil
}

func (r *run) numeric(ctx context.Context) error {
	scope := Unscoped
	if r.opts.Scoped {
		pool, err := classfile.ParseConstantPool(r.buf)
		if err != nil {
			return fmt.Errorf("failed to parse constant pool for scoped search: %w", err)
		}
		scope = Within(pool.SpansOf(classfile.ConstantInteger)...)
	}

	offset, err := ReplaceInt(r.buf, r.opts.OldValue, r.opts.NewValue, scope)
	if err != nil {
		return err
	}
	r.record(StageNumeric, OutcomeApplied, offset, "integer constant %d -> %d", r.opts.OldValue, r.opts.NewValue)
	return nil
}

// encoder never fails the run. Any problem, including a class file it cannot
// parse, becomes a warning and leaves the buffer as it was.
func (r *run) encoder(ctx context.Context) error {
	enc := r.opts.Encoder
	if enc == nil {
		r.record(StageEncoder, OutcomeSkipped, -1, "encoder unchanged")
		return nil
	}

	pool, scope, err := r.encoderScope()
	if err != nil {
		r.warn(StageEncoder, fmt.Errorf("cannot resolve %s: %w", enc.Method, err))
		return nil
	}

	methodref, ok := classfile.FindMethodref(pool, []byte(enc.Method))
	if !ok {
		r.warn(StageEncoder, fmt.Errorf("%w: no Methodref named %s in constant pool", ErrOptionalPatternNotFound, enc.Method))
		return nil
	}
	if candidates := classfile.MethodrefCandidates(pool, []byte(enc.Method)); len(candidates) > 1 {
		r.log.Warningf("%d Methodref entries are named %s, using #%d", len(candidates), enc.Method, methodref)
	}

	offset, err := ReplacePushBeforeInvoke(r.buf, methodref, enc.From, enc.To, scope)
	if err != nil {
		if IsWarning(err) {
			r.warn(StageEncoder, err)
			return nil
		}
		return err
	}
	r.record(StageEncoder, OutcomeApplied, offset, "iconst_%d -> iconst_%d before invokevirtual #%d (%s)",
		enc.From, enc.To, methodref, enc.Method)
	return nil
}

func (r *run) encoderScope() (classfile.ConstantPool, Scope, error) {
	if !r.opts.Scoped {
		pool, err := classfile.ParseConstantPool(r.buf)
		return pool, Unscoped, err
	}
	cf, err := classfile.Parse(r.buf)
	if err != nil {
		return nil, Unscoped, err
	}
	return cf.ConstantPool, Within(cf.CodeSpans()...), nil
}

func (r *run) text(ctx context.Context) error {
	if len(r.opts.Text) == 0 {
		r.record(StageText, OutcomeSkipped, -1, "no fingerprint substitutions")
		return nil
	}
	for _, pair := range r.opts.Text {
		offset, err := ReplaceText(r.buf, pair)
		switch {
		case err == nil:
			r.record(StageText, OutcomeApplied, offset, "%s", pair)
		case IsWarning(err):
			r.warn(StageText, err)
		default:
			return err
		}
	}
	return nil
}

func (r *run) commit(ctx context.Context) error {
	if r.buf == nil {
		return errors.New("nothing loaded")
	}
	r.container.Put(r.opts.Target, r.buf)
	r.report.Size = len(r.buf)
	r.record(StageCommit, OutcomeApplied, -1, "%s (%d bytes)", r.opts.Target, len(r.buf))
	return nil
}
