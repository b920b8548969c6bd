package openai

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// ClassificationPrompt is the prompt set for one classifier call
type ClassificationPrompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`

	user *template.Template
}

// PromptConfig holds the prompts and model parameters used by the classifier
type PromptConfig struct {
	RejectionClassification ClassificationPrompt `yaml:"rejection_classification"`
}

// LoadPrompts reads prompts from a YAML file and compiles their templates.
// An empty path returns the built-in prompts.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data := defaultPrompts
	if promptsPath != "" {
		var err error
		if data, err = os.ReadFile(promptsPath); err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
	}

	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	p := &prompts.RejectionClassification
	if strings.TrimSpace(p.UserTemplate) == "" {
		return nil, fmt.Errorf("prompts file has no rejection_classification.user_template")
	}
	tmpl, err := template.New("rejection_classification").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(p.UserTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid rejection_classification.user_template: %w", err)
	}
	p.user = tmpl

	return &prompts, nil
}

// RenderUser fills the user template with data
func (p *ClassificationPrompt) RenderUser(data interface{}) (string, error) {
	if p.user == nil {
		return "", fmt.Errorf("prompt template not loaded")
	}
	var buf bytes.Buffer
	if err := p.user.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
