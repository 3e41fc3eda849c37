// Package config holds the defaults of a patch run and their environment
// overrides. Command-line flags take precedence over both.
package config

import (
	"strconv"
	"strings"

	"github.com/hispeedtriggercam/classpatch/classfile"
	"github.com/hispeedtriggercam/classpatch/patch"
	"github.com/hispeedtriggercam/classpatch/telemetry"
	"github.com/xyproto/env/v2"
)

const (
	// DefaultTarget is HwCameraKit's HwMediaRecorder implementation.
	DefaultTarget = "com/huawei/camerakit/impl/c.class"
	DefaultMethod = "setVideoEncoder"

	// MediaRecorder.VideoEncoder.H264 and HEVC.
	DefaultEncoderFrom = 2
	DefaultEncoderTo   = 5

	DefaultVerbosity = 1
)

const (
	EnvTarget       = "CLASSPATCH_TARGET"
	EnvMethod       = "CLASSPATCH_METHOD"
	EnvVerbosity    = "CLASSPATCH_VERBOSITY"
	EnvOTLPEndpoint = "CLASSPATCH_OTLP_ENDPOINT"
	EnvScoped       = "CLASSPATCH_SCOPED"
)

// fingerprints mark a jar as patched without changing any entry's length.
var fingerprints = [][2]string{
	{"mediaRecorder prepare done!", "mediaRecorder prepare d0ne!"},
}

type Config struct {
	Target       string
	Method       string
	Verbosity    int
	OTLPEndpoint string
	Scoped       bool
}

func FromEnv() Config {
	// env caches the environment on first lookup; reload so later changes are seen.
	env.Load()
	return Config{
		Target:       env.Str(EnvTarget, DefaultTarget),
		Method:       env.Str(EnvMethod, DefaultMethod),
		Verbosity:    env.Int(EnvVerbosity, DefaultVerbosity),
		OTLPEndpoint: env.Str(EnvOTLPEndpoint),
		Scoped:       env.Bool(EnvScoped),
	}
}

func (c Config) Telemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:     c.OTLPEndpoint != "",
		Endpoint:    c.OTLPEndpoint,
		ServiceName: telemetry.DefaultServiceName,
	}
}

func DefaultTextPairs() []patch.TextPair {
	pairs := make([]patch.TextPair, len(fingerprints))
	for i, fp := range fingerprints {
		pairs[i] = patch.TextPair{Old: []byte(fp[0]), New: []byte(fp[1])}
	}
	return pairs
}

// ParseTextPair parses OLD=NEW. The split is on the first '=', so NEW may
// itself contain one.
func ParseTextPair(s string) (patch.TextPair, error) {
	oldText, newText, ok := strings.Cut(s, "=")
	if !ok {
		return patch.TextPair{}, patch.WrapConfig("text replacement %q is not OLD=NEW", s)
	}
	pair := patch.TextPair{Old: []byte(oldText), New: []byte(newText)}
	if err := pair.Validate(); err != nil {
		return patch.TextPair{}, err
	}
	return pair, nil
}

// ParseInt32 parses a signed 32-bit decimal integer.
func ParseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, patch.WrapConfig("%q is not a 32-bit integer", s)
	}
	return int32(v), nil
}

// Encoder builds and checks an encoder change.
func Encoder(method string, from, to int) (*patch.EncoderChange, error) {
	if method == "" {
		return nil, patch.WrapConfig("encoder change needs a method name")
	}
	for _, v := range []int{from, to} {
		if _, ok := classfile.IconstOpcode(v); !ok {
			return nil, patch.WrapConfig("encoder value %d outside 0..%d", v, classfile.MaxIconst)
		}
	}
	return &patch.EncoderChange{Method: method, From: from, To: to}, nil
}
