package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/dxil"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cauldron/internal/blobcache"
	"github.com/gogpu/cauldron/internal/fnvhash"
)

// Compiler errors.
var (
	// ErrCompile wraps every failure to translate a shader.
	ErrCompile = errors.New("shader: compile failed")

	// ErrInvalidBuildDesc is returned for a BuildDesc without source or entry point.
	ErrInvalidBuildDesc = errors.New("shader: invalid build description")

	// ErrUnknownTarget is returned by ParseTarget.
	ErrUnknownTarget = errors.New("shader: unknown target")
)

// Target is the shading language a blob is compiled to.
type Target uint8

const (
	TargetWGSL Target = iota
	TargetSPIRV
	TargetHLSL
	TargetDXIL
	TargetMSL
	TargetGLSL
)

var targetNames = [...]string{"wgsl", "spirv", "hlsl", "dxil", "msl", "glsl"}

// String returns the lowercase target name.
func (t Target) String() string {
	if int(t) < len(targetNames) {
		return targetNames[t]
	}
	return fmt.Sprintf("Target(%d)", t)
}

// ParseTarget maps a target name, case-insensitively, to a Target.
func ParseTarget(s string) (Target, error) {
	for i, n := range targetNames {
		if strings.EqualFold(s, n) {
			return Target(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// Stage is a pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StagePixel
	StageCompute
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StagePixel:
		return "pixel"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Stage(%d)", s)
	}
}

// BuildDesc describes one shader to build.
type BuildDesc struct {
	// Label names the shader in logs and errors.
	Label string

	// Source is WGSL with optional preprocessor directives.
	Source string

	EntryPoint string
	Stage      Stage

	// Model selects the shader model for the DirectX targets, e.g. "5_1"
	// or "6_0". Empty means the translator default.
	Model string

	Defines *DefineList
}

// Blob is a compiled shader.
type Blob struct {
	Target     Target
	Stage      Stage
	EntryPoint string
	Hash       uint64

	// Source is the preprocessed WGSL the blob was built from.
	Source string

	// Code holds binary output (SPIR-V, DXIL).
	Code []byte

	// Text holds textual output (HLSL, MSL, GLSL).
	Text string
}

// HALSource returns the shader source the HAL accepts. SPIR-V blobs are
// passed as words. Every other target falls back to the preprocessed WGSL,
// which each HAL backend translates on its own.
func (b *Blob) HALSource() hal.ShaderSource {
	if b.Target == TargetSPIRV && len(b.Code)%4 == 0 && len(b.Code) > 0 {
		words := make([]uint32, len(b.Code)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(b.Code[i*4:])
		}
		return hal.ShaderSource{SPIRV: words}
	}
	return hal.ShaderSource{WGSL: b.Source}
}

// Stats reports compiler cache activity.
type Stats struct {
	Compiled uint64
	Hits     uint64
	Misses   uint64
	Cached   int
}

// Compiler translates BuildDescs to Blobs and caches the results.
//
// Compiler is safe for concurrent use.
type Compiler struct {
	target   Target
	validate bool
	debug    bool
	cache    *blobcache.Cache[*Blob]
}

// CompilerOption configures a Compiler.
type CompilerOption func(*compilerOptions)

type compilerOptions struct {
	target     Target
	validate   bool
	debug      bool
	cacheLimit int
}

// WithTarget sets the default target. The default is TargetWGSL.
func WithTarget(t Target) CompilerOption {
	return func(o *compilerOptions) { o.target = t }
}

// WithValidation toggles naga IR validation. Enabled by default.
func WithValidation(enabled bool) CompilerOption {
	return func(o *compilerOptions) { o.validate = enabled }
}

// WithDebugInfo emits debug names into SPIR-V output.
func WithDebugInfo(enabled bool) CompilerOption {
	return func(o *compilerOptions) { o.debug = enabled }
}

// WithCacheLimit sets the soft limit of cached blobs. 0 means unlimited.
func WithCacheLimit(n int) CompilerOption {
	return func(o *compilerOptions) { o.cacheLimit = n }
}

// NewCompiler creates a compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	o := compilerOptions{validate: true, cacheLimit: 512}
	for _, opt := range opts {
		opt(&o)
	}
	return &Compiler{
		target:   o.target,
		validate: o.validate,
		debug:    o.debug,
		cache:    blobcache.New[*Blob](o.cacheLimit),
	}
}

// Target returns the default target.
func (c *Compiler) Target() Target { return c.target }

// Compile builds desc for the default target.
func (c *Compiler) Compile(desc BuildDesc) (*Blob, error) {
	return c.CompileTarget(desc, c.target)
}

// CompileTarget builds desc for target, returning a cached blob when the
// same source, defines and settings were compiled before.
func (c *Compiler) CompileTarget(desc BuildDesc, target Target) (*Blob, error) {
	if desc.Source == "" || desc.EntryPoint == "" {
		return nil, fmt.Errorf("%w: %q needs source and entry point", ErrInvalidBuildDesc, desc.Label)
	}

	key := Hash(desc, target)
	blob, hit, err := c.cache.GetOrBuild(key, func() (*Blob, error) {
		return c.build(desc, target, key)
	})
	if err != nil {
		slogger().Warn("shader compile failed",
			"label", desc.Label, "target", target, "entry", desc.EntryPoint, "err", err)
		return nil, err
	}
	if hit {
		slogger().Debug("shader cache hit", "label", desc.Label, "hash", key)
	}
	return blob, nil
}

// Stats returns cache counters.
func (c *Compiler) Stats() Stats {
	s := c.cache.Stats()
	return Stats{Compiled: s.Misses, Hits: s.Hits, Misses: s.Misses, Cached: s.Len}
}

// Hash returns the cache key of desc for target: FNV-1a over target, model,
// stage, entry point, canonical defines and the raw source.
func Hash(desc BuildDesc, target Target) uint64 {
	h := fnvhash.New()
	fnvhash.WriteUint32(h, uint32(target))
	fnvhash.WriteString(h, desc.Model)
	fnvhash.WriteUint32(h, uint32(desc.Stage))
	fnvhash.WriteString(h, desc.EntryPoint)
	canon := desc.Defines.Canonical()
	fnvhash.WriteUint32(h, uint32(canon.Len())) //nolint:gosec // define count is small
	for k, v := range canon.All() {
		fnvhash.WriteString(h, k)
		fnvhash.WriteString(h, v)
	}
	fnvhash.WriteString(h, desc.Source)
	return h.Sum64()
}

func (c *Compiler) build(desc BuildDesc, target Target, key uint64) (*Blob, error) {
	src, err := Preprocess(desc.Source, desc.Defines)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, desc.Label, err)
	}

	blob := &Blob{
		Target:     target,
		Stage:      desc.Stage,
		EntryPoint: desc.EntryPoint,
		Hash:       key,
		Source:     src,
	}

	switch target {
	case TargetWGSL:
		// The HAL consumes WGSL directly.
	case TargetSPIRV:
		code, err := naga.CompileWithOptions(src, naga.CompileOptions{
			SPIRVVersion: spirv.Version1_3,
			Debug:        c.debug,
			Validate:     c.validate,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCompile, desc.Label, err)
		}
		blob.Code = code
	default:
		module, err := c.lower(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCompile, desc.Label, err)
		}
		if err := translate(blob, module, desc); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCompile, desc.Label, err)
		}
	}

	slogger().Debug("shader compiled",
		"label", desc.Label,
		"target", target,
		"stage", desc.Stage,
		"entry", desc.EntryPoint,
		"defines", desc.Defines.String(),
		"hash", key)
	return blob, nil
}

// lower parses and lowers WGSL to naga IR, validating when enabled.
func (c *Compiler) lower(src string) (*ir.Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("lowering error: %w", err)
	}
	if c.validate {
		verrs, err := naga.Validate(module)
		if err != nil {
			return nil, fmt.Errorf("validation error: %w", err)
		}
		if len(verrs) > 0 {
			return nil, fmt.Errorf("validation failed: %w", &verrs[0])
		}
	}
	return module, nil
}

func translate(blob *Blob, module *ir.Module, desc BuildDesc) error {
	switch blob.Target {
	case TargetHLSL:
		opts := hlsl.DefaultOptions()
		switch desc.Model {
		case "5_0":
			opts.ShaderModel = hlsl.ShaderModel5_0
		case "6_0":
			opts.ShaderModel = hlsl.ShaderModel6_0
		}
		text, _, err := hlsl.Compile(module, opts)
		if err != nil {
			return err
		}
		blob.Text = text
	case TargetDXIL:
		opts := dxil.DefaultOptions()
		var major, minor uint32
		if _, err := fmt.Sscanf(desc.Model, "%d_%d", &major, &minor); err == nil && major >= 6 {
			opts.ShaderModel = dxil.ShaderModel{Major: major, Minor: minor}
		}
		code, err := dxil.Compile(module, opts)
		if err != nil {
			return err
		}
		blob.Code = code
	case TargetMSL:
		text, _, err := msl.Compile(module, msl.DefaultOptions())
		if err != nil {
			return err
		}
		blob.Text = text
	case TargetGLSL:
		opts := glsl.DefaultOptions()
		opts.EntryPoint = desc.EntryPoint
		if desc.Stage == StageCompute {
			opts.LangVersion = glsl.Version450
		}
		text, _, err := glsl.Compile(module, opts)
		if err != nil {
			return err
		}
		blob.Text = text
	default:
		return fmt.Errorf("%w: %v", ErrUnknownTarget, blob.Target)
	}
	return nil
}
