package cauldron

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/exp/maps"
	"golang.org/x/text/cases"

	"github.com/gogpu/cauldron/shader"
)

// ErrInvalidConfig is returned for framework configuration that does not
// decode or validate.
var ErrInvalidConfig = errors.New("cauldron: invalid configuration")

// Default resolution of a configuration without one.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Config is the framework configuration file.
//
//	{
//	  "width": 1920, "height": 1080,
//	  "shaderTarget": "spirv",
//	  "renderModules": ["GBufferRenderModule", "RasterShadowRenderModule"],
//	  "modules": {"GBufferRenderModule": {"generateMotionVectors": true}},
//	  "content": [{"name": "sky", "textures": ["sky.png"]}]
//	}
type Config struct {
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	ShaderTarget string `json:"shaderTarget"`

	// RenderModules lists the modules to create, in execution order.
	RenderModules []string                   `json:"renderModules"`
	Modules       map[string]json.RawMessage `json:"modules"`
	Content       []ContentConfig            `json:"content"`
}

// ContentConfig names a content block and the image files loaded into it.
type ContentConfig struct {
	Name     string   `json:"name"`
	Textures []string `json:"textures"`
}

// LoadConfig decodes a configuration from r. Unknown fields are an error.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := &Config{Width: DefaultWidth, Height: DefaultHeight}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and decodes the configuration file at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cauldron: %w", err)
	}
	defer f.Close()
	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if _, err := c.Target(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(c.Content))
	for _, cc := range c.Content {
		if cc.Name == "" || seen[cc.Name] {
			return fmt.Errorf("%w: content block name %q is empty or repeated", ErrInvalidConfig, cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

// Target returns the configured shader target, WGSL when unset.
func (c *Config) Target() (shader.Target, error) {
	if c.ShaderTarget == "" {
		return shader.TargetWGSL, nil
	}
	return shader.ParseTarget(c.ShaderTarget)
}

// ModuleConfig returns the configuration block of the named module, or
// nil. An exact key wins; otherwise keys are compared under Unicode case
// folding, in sorted order.
func (c *Config) ModuleConfig(name string) json.RawMessage {
	if raw, ok := c.Modules[name]; ok {
		return raw
	}
	fold := cases.Fold()
	want := fold.String(name)
	keys := maps.Keys(c.Modules)
	slices.Sort(keys)
	for _, k := range keys {
		if fold.String(k) == want {
			return c.Modules[k]
		}
	}
	return nil
}
