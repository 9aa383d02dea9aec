// Package describe asks a Gemini model for a plain-language description of
// a screenshot and the issues found on it.
package describe

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// ErrDescribeFailed is returned when the model call fails.
var ErrDescribeFailed = core.NewError(core.ErrCategoryNotify, "describe_failed", "describe screenshot failed")

// Input is what the model is shown.
type Input struct {
	PNG      []byte
	Analysis *vision.Analysis
	Issues   []rules.Issue
}

// Describer writes descriptions of screenshots.
type Describer interface {
	Describe(ctx context.Context, in Input) (string, error)
}

// Nop returns no description.
type Nop struct{}

// Describe returns "".
func (Nop) Describe(context.Context, Input) (string, error) { return "", nil }

// generator is the part of genai.Models that GenAI uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAI describes screenshots with a Gemini model.
type GenAI struct {
	models generator
	model  string
}

// New returns a GenAI describer when descriptions are enabled and an API
// key is set, and Nop otherwise.
func New(ctx context.Context, cfg config.DescribeConfig) (Describer, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.APIKey == "" {
		return nil, core.ErrMissingRequired.WithMessage("describe.apiKey (or GEMINI_API_KEY) is required when describe is enabled")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ErrDescribeFailed.WithMessage("create GenAI client").WithCause(err)
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultDescribeModel
	}
	return &GenAI{models: client.Models, model: model}, nil
}

const systemPrompt = `You review screenshots of a mobile app for UI problems.
Describe the screen in two or three sentences: what it is for and what is on it.
Then say, in one sentence each, whether the listed automated findings look real.
Plain text only.`

// Describe sends the screenshot and a summary of the analysis to the model.
func (g *GenAI) Describe(ctx context.Context, in Input) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(Prompt(in.Analysis, in.Issues))}
	if len(in.PNG) > 0 {
		parts = append(parts, genai.NewPartFromBytes(in.PNG, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", ErrDescribeFailed.Messagef("%s generate", g.model).WithCause(err)
	}
	text := strings.TrimSpace(resp.Text())
	logger.Debug("describe: %d chars from %s", len(text), g.model)
	return text, nil
}

// Prompt lists what the detector saw and which rules fired.
func Prompt(a *vision.Analysis, issues []rules.Issue) string {
	var b strings.Builder
	if a != nil {
		fmt.Fprintf(&b, "Screen: %s (%dx%d, confidence %.2f)\n", a.Screen, a.Width, a.Height, a.Confidence)
		fmt.Fprintf(&b, "Detected: %d texts, %d buttons, %d inputs; brightness %.0f\n",
			len(a.Texts), len(a.Buttons), len(a.Inputs), a.Metrics.Brightness)
	}
	if len(issues) == 0 {
		b.WriteString("Findings: none\n")
		return b.String()
	}
	b.WriteString("Findings:\n")
	for _, is := range issues {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", is.Severity, is.RuleID, is.Description)
	}
	return b.String()
}
