package patch

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hispeedtriggercam/classpatch/classfile"
	"github.com/hispeedtriggercam/classpatch/classfile/classfiletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "com/huawei/camerakit/impl/c.class"

type memContainer map[string][]byte

func (m memContainer) Get(name string) ([]byte, bool) {
	data, ok := m[name]
	return data, ok
}

func (m memContainer) Put(name string, data []byte) {
	m[name] = data
}

// recorderClass builds a class with the bitrate constant, a call to
// setVideoEncoder(2) and the log string used as a fingerprint.
func recorderClass(bitrate int32) (data []byte, intIdx, methodref uint16) {
	b := classfiletest.New()
	b.SetClass("com/huawei/camerakit/impl/c", "java/lang/Object")
	intIdx = b.Integer(bitrate)
	methodref = b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	b.String("mediaRecorder prepare done!")

	code := []byte{0x2a, 0xb4, 0x00, 0x01, 0x05}
	code = append(code, classfiletest.InvokeVirtual(methodref)...)
	code = append(code, 0xb1)
	b.Method("prepare", "()V", code)
	return b.Bytes(), intIdx, methodref
}

func defaultText() []TextPair {
	return []TextPair{{Old: []byte("mediaRecorder prepare done!"), New: []byte("mediaRecorder prepare d0ne!")}}
}

func TestPipelineRun(t *testing.T) {
	data, intIdx, _ := recorderClass(12000000)
	c := memContainer{target: bytes.Clone(data), "META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n")}

	p := NewPipeline(Options{
		Target:   target,
		OldValue: 12000000,
		NewValue: 80000000,
		Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 2, To: 5},
		Text:     defaultText(),
	})
	report, err := p.Run(context.Background(), c)
	require.NoError(t, err)

	patched := c[target]
	assert.Len(t, patched, len(data))
	assert.Equal(t, len(data), report.Size)
	assert.Empty(t, report.Warnings())

	cf, err := classfile.Parse(patched)
	require.NoError(t, err)
	bitrate, ok := cf.ConstantPool.GetInteger(intIdx)
	require.True(t, ok)
	assert.Equal(t, int32(80000000), bitrate)

	code := cf.GetMethods("prepare")[0].GetCodeAttribute(cf.ConstantPool).Code
	assert.Equal(t, byte(0x08), code[4])

	assert.True(t, bytes.Contains(patched, []byte("mediaRecorder prepare d0ne!")))
	assert.False(t, bytes.Contains(patched, []byte("mediaRecorder prepare done!")))

	var stages []Stage
	for _, res := range report.Results {
		stages = append(stages, res.Stage)
	}
	assert.Equal(t, []Stage{StageLoad, StageWholeReplace, StageNumeric, StageEncoder, StageText, StageCommit}, stages)
	assert.Equal(t, OutcomeSkipped, report.Stage(StageWholeReplace)[0].Outcome)
	assert.Equal(t, OutcomeApplied, report.Stage(StageEncoder)[0].Outcome)

	numeric := report.Stage(StageNumeric)[0]
	assert.Equal(t, cf.ConstantPool.Entry(intIdx).Span().Offset, numeric.Offset)

	assert.Equal(t, []byte("Manifest-Version: 1.0\n"), c["META-INF/MANIFEST.MF"])
}

func TestPipelineInputNotAliased(t *testing.T) {
	data, _, _ := recorderClass(12000000)
	orig := bytes.Clone(data)
	c := memContainer{target: data}

	_, err := NewPipeline(Options{Target: target, OldValue: 12000000, NewValue: 1}).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, orig, data, "the loaded entry must be copied before patching")
}

func TestPipelineFatalErrors(t *testing.T) {
	data, _, _ := recorderClass(12000000)

	t.Run("missing entry", func(t *testing.T) {
		c := memContainer{"other.class": data}
		_, err := NewPipeline(Options{Target: target, OldValue: 12000000, NewValue: 1}).Run(context.Background(), c)
		assert.ErrorIs(t, err, ErrMissingEntry)
		assert.Len(t, c, 1)
	})

	t.Run("numeric pattern absent", func(t *testing.T) {
		c := memContainer{target: bytes.Clone(data)}
		report, err := NewPipeline(Options{
			Target:   target,
			OldValue: 11111111,
			NewValue: 1,
			Text:     defaultText(),
		}).Run(context.Background(), c)
		assert.ErrorIs(t, err, ErrPatternNotFound)
		assert.Equal(t, data, c[target], "container must be untouched")
		assert.Empty(t, report.Stage(StageCommit))
	})

	t.Run("invalid options", func(t *testing.T) {
		c := memContainer{target: bytes.Clone(data)}
		for _, opts := range []Options{
			{},
			{Target: target, Encoder: &EncoderChange{Method: "setVideoEncoder", From: 2, To: 9}},
			{Target: target, Encoder: &EncoderChange{From: 2, To: 5}},
			{Target: target, Text: []TextPair{{Old: []byte("a"), New: []byte("bb")}}},
		} {
			report, err := NewPipeline(opts).Run(context.Background(), c)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Nil(t, report)
		}
		assert.Equal(t, data, c[target])
	})

	t.Run("cancelled context", func(t *testing.T) {
		c := memContainer{target: bytes.Clone(data)}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPipeline(Options{Target: target, OldValue: 12000000, NewValue: 1}).Run(ctx, c)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, data, c[target])
	})
}

func TestPipelineWarnings(t *testing.T) {
	t.Run("method not in pool", func(t *testing.T) {
		b := classfiletest.New()
		b.Integer(12000000)
		b.Methodref("android/media/MediaRecorder", "setAudioEncoder", "(I)V")
		data := b.Bytes()
		c := memContainer{target: bytes.Clone(data)}

		report, err := NewPipeline(Options{
			Target:   target,
			OldValue: 12000000,
			NewValue: 80000000,
			Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 2, To: 5},
			Text:     defaultText(),
		}).Run(context.Background(), c)
		require.NoError(t, err)

		warnings := report.Warnings()
		require.Len(t, warnings, 2)
		assert.Equal(t, StageEncoder, warnings[0].Stage)
		assert.ErrorIs(t, warnings[0].Err, ErrOptionalPatternNotFound)
		assert.Equal(t, StageText, warnings[1].Stage)
		assert.Len(t, c[target], len(data))
	})

	t.Run("instruction pattern absent", func(t *testing.T) {
		data, _, methodref := recorderClass(12000000)
		c := memContainer{target: bytes.Clone(data)}

		report, err := NewPipeline(Options{
			Target:   target,
			OldValue: 12000000,
			NewValue: 80000000,
			Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 3, To: 5},
		}).Run(context.Background(), c)
		require.NoError(t, err)

		warnings := report.Warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, StageEncoder, warnings[0].Stage)
		assert.Contains(t, warnings[0].Detail, "invokevirtual")
		assert.NotZero(t, methodref)
	})

	t.Run("unparsable class downgrades encoder stage", func(t *testing.T) {
		b := classfiletest.New()
		b.Integer(12000000)
		b.Raw(2, 0, 0)
		data := b.Bytes()
		data = append(data, 0x05, 0xb6, 0x00, 0x02)
		c := memContainer{target: bytes.Clone(data)}

		report, err := NewPipeline(Options{
			Target:   target,
			OldValue: 12000000,
			NewValue: 80000000,
			Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 2, To: 5},
		}).Run(context.Background(), c)
		require.NoError(t, err)

		warnings := report.Warnings()
		require.Len(t, warnings, 1)
		assert.ErrorIs(t, warnings[0].Err, classfile.ErrFormat)
		assert.Equal(t, byte(0x05), c[target][len(data)-4], "encoder bytes must be untouched")
		assert.Equal(t, OutcomeApplied, report.Stage(StageNumeric)[0].Outcome)
	})
}

func TestPipelineWholeReplace(t *testing.T) {
	original, _, _ := recorderClass(12000000)
	replacement, intIdx, _ := recorderClass(24000000)
	c := memContainer{target: bytes.Clone(original)}

	report, err := NewPipeline(Options{
		Target:          target,
		OldValue:        24000000,
		NewValue:        100000000,
		Replacement:     replacement,
		ReplacementName: "tmp/c.class",
	}).Run(context.Background(), c)
	require.NoError(t, err)

	whole := report.Stage(StageWholeReplace)
	require.Len(t, whole, 1)
	assert.Equal(t, OutcomeApplied, whole[0].Outcome)
	assert.Contains(t, whole[0].Detail, "tmp/c.class")

	pool, err := classfile.ParseConstantPool(c[target])
	require.NoError(t, err)
	got, _ := pool.GetInteger(intIdx)
	assert.Equal(t, int32(100000000), got)
}

func TestPipelineScoped(t *testing.T) {
	b := classfiletest.New()
	decoy := b.Utf8(string(IntegerPattern(12000000)))
	b.SetClass("com/huawei/camerakit/impl/c", "java/lang/Object")
	intIdx := b.Integer(12000000)
	ref := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	b.Method("prepare", "()V", append([]byte{0x05}, classfiletest.InvokeVirtual(ref)...))
	data := b.Bytes()
	c := memContainer{target: bytes.Clone(data)}

	report, err := NewPipeline(Options{
		Target:   target,
		OldValue: 12000000,
		NewValue: 80000000,
		Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 2, To: 5},
		Scoped:   true,
	}).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, report.Warnings())

	cf, err := classfile.Parse(c[target])
	require.NoError(t, err)
	assert.Equal(t, string(IntegerPattern(12000000)), string(cf.ConstantPool.GetUtf8(decoy)))
	got, _ := cf.ConstantPool.GetInteger(intIdx)
	assert.Equal(t, int32(80000000), got)
	assert.Equal(t, byte(0x08), cf.GetMethods("prepare")[0].GetCodeAttribute(cf.ConstantPool).Code[0])
}

func TestPipelineAmbiguousMethod(t *testing.T) {
	b := classfiletest.New()
	b.Integer(1)
	first := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	second := b.Methodref("com/huawei/Recorder", "setVideoEncoder", "(I)V")
	data := b.Bytes()
	data = append(data, 0x05)
	data = append(data, classfiletest.InvokeVirtual(second)...)
	data = append(data, 0x05)
	data = append(data, classfiletest.InvokeVirtual(first)...)
	c := memContainer{target: bytes.Clone(data)}

	report, err := NewPipeline(Options{
		Target:   target,
		OldValue: 1,
		NewValue: 2,
		Encoder:  &EncoderChange{Method: "setVideoEncoder", From: 2, To: 5},
	}).Run(context.Background(), c)
	require.NoError(t, err)

	patched := c[target]
	n := len(data)
	assert.Equal(t, byte(0x05), patched[n-8], "call through the second Methodref is left alone")
	assert.Equal(t, byte(0x08), patched[n-4])
	assert.Equal(t, n-4, report.Stage(StageEncoder)[0].Offset)
}
