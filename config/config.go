package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Config holds all configuration
type Config struct {
	Variables []Variable     `hcl:"variable,block"`
	Models    []Model        `hcl:"model,block"`
	Storage   *StorageConfig `hcl:"storage,block"`
	Agents    []Agent        `hcl:"agent,block"`

	// ResolvedVars holds the resolved variable values for runtime use
	ResolvedVars map[string]cty.Value `hcl:"-"`
}

func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// LoadAndValidate loads the config and validates all components
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all config components are valid
func (c *Config) Validate() error {
	for _, v := range c.Variables {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variable '%s': %w", v.Name, err)
		}
	}

	modelNames := make(map[string]bool)
	for _, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model '%s': %w", m.Name, err)
		}
		if modelNames[m.Name] {
			return fmt.Errorf("model '%s': duplicate model block", m.Name)
		}
		modelNames[m.Name] = true
	}

	if c.Storage != nil {
		if err := c.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}

	agentNames := make(map[string]bool)
	for _, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent '%s': %w", a.Name, err)
		}
		if agentNames[a.Name] {
			return fmt.Errorf("agent '%s': duplicate agent block", a.Name)
		}
		agentNames[a.Name] = true
		if _, err := a.ResolveModel(c.Models); err != nil {
			return fmt.Errorf("agent '%s': %w", a.Name, err)
		}
	}

	return nil
}

// FindAgent returns the agent with the given name, or nil
func (c *Config) FindAgent(name string) *Agent {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i]
		}
	}
	return nil
}

// FindModel returns the model block with the given name, or nil
func (c *Config) FindModel(name string) *Model {
	for i := range c.Models {
		if c.Models[i].Name == name {
			return &c.Models[i]
		}
	}
	return nil
}

func LoadFile(filename string) (*Config, error) {
	return loadFromFiles([]string{filename})
}

func LoadDir(dir string) (*Config, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, err
	}
	return loadFromFiles(files)
}

// parsedBlocks holds all blocks extracted from a file in one pass
type parsedBlocks struct {
	Variables []*hcl.Block
	Models    []*hcl.Block
	Storages  []*hcl.Block
	Agents    []*hcl.Block
}

// loadFromFiles implements staged loading: variables → models → storage → agents
func loadFromFiles(files []string) (*Config, error) {
	// Parse all files and extract all block types in a single pass
	parser := hclparse.NewParser()
	var allParsedBlocks []parsedBlocks

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}

		// Extract all known block types in one PartialContent call
		content, _, diags := hclFile.Body.PartialContent(&hcl.BodySchema{
			Blocks: []hcl.BlockHeaderSchema{
				{Type: "variable", LabelNames: []string{"name"}},
				{Type: "model", LabelNames: []string{"name"}},
				{Type: "storage"},
				{Type: "agent", LabelNames: []string{"name"}},
			},
		})
		if diags.HasErrors() {
			return nil, fmt.Errorf("partial content %s: %w", file, diags)
		}

		var pb parsedBlocks
		for _, block := range content.Blocks {
			switch block.Type {
			case "variable":
				pb.Variables = append(pb.Variables, block)
			case "model":
				pb.Models = append(pb.Models, block)
			case "storage":
				pb.Storages = append(pb.Storages, block)
			case "agent":
				pb.Agents = append(pb.Agents, block)
			}
		}
		allParsedBlocks = append(allParsedBlocks, pb)
	}

	// Stage 1: Load variables (no context needed)
	var allVars []Variable
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Variables {
			var v Variable
			v.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, nil, &v)
			if diags.HasErrors() {
				return nil, fmt.Errorf("decode variable %s: %w", v.Name, diags)
			}
			allVars = append(allVars, v)
		}
	}

	// Build vars context
	varsCtx, resolvedVars := buildVarsContext(allVars)

	// Stage 2: Load models (with vars context)
	var allModels []Model
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Models {
			var m Model
			m.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, varsCtx, &m)
			if diags.HasErrors() {
				return nil, fmt.Errorf("decode model %s: %w", m.Name, diags)
			}
			allModels = append(allModels, m)
		}
	}

	// Build models context (add to vars context)
	modelsCtx := buildModelsContext(varsCtx, allModels)

	// Stage 3: Load storage (with vars context so the dsn can reference vars.*)
	var storage *StorageConfig
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Storages {
			if storage != nil {
				return nil, fmt.Errorf("multiple storage blocks; only one is allowed")
			}
			var s StorageConfig
			diags := gohcl.DecodeBody(block.Body, varsCtx, &s)
			if diags.HasErrors() {
				return nil, fmt.Errorf("decode storage: %w", diags)
			}
			s.Defaults()
			storage = &s
		}
	}

	// Stage 4: Load agents (with vars + models context)
	var allAgents []Agent
	for _, pb := range allParsedBlocks {
		for _, block := range pb.Agents {
			var a Agent
			a.Name = block.Labels[0]
			diags := gohcl.DecodeBody(block.Body, modelsCtx, &a)
			if diags.HasErrors() {
				return nil, fmt.Errorf("decode agent %s: %w", a.Name, diags)
			}
			allAgents = append(allAgents, a)
		}
	}

	return &Config{
		Variables:    allVars,
		Models:       allModels,
		Storage:      storage,
		Agents:       allAgents,
		ResolvedVars: resolvedVars,
	}, nil
}

// buildVarsContext creates context with just vars
func buildVarsContext(vars []Variable) (*hcl.EvalContext, map[string]cty.Value) {
	varsMap := make(map[string]cty.Value)
	fileVars, _ := LoadVarsFromFile()
	for _, v := range vars {
		if val, ok := fileVars[v.Name]; ok {
			varsMap[v.Name] = cty.StringVal(val)
		} else if v.Default != "" {
			varsMap[v.Name] = cty.StringVal(v.Default)
		} else {
			varsMap[v.Name] = cty.StringVal("")
		}
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"vars": cty.ObjectVal(varsMap),
		},
	}, varsMap
}

// buildModelsContext adds models to existing context.
// models.{name} resolves to the block name so agents can write
// model = models.default instead of a bare string.
func buildModelsContext(ctx *hcl.EvalContext, models []Model) *hcl.EvalContext {
	modelsMap := make(map[string]cty.Value)
	for _, m := range models {
		modelsMap[m.Name] = cty.StringVal(m.Name)
	}

	// Copy existing vars and add models
	newVars := make(map[string]cty.Value)
	for k, v := range ctx.Variables {
		newVars[k] = v
	}
	newVars["models"] = cty.ObjectVal(modelsMap)

	return &hcl.EvalContext{
		Variables: newVars,
	}
}
