package describe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	reply    string
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.cfg = model, contents, cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.reply, genai.RoleModel)}},
	}, nil
}

func input() Input {
	return Input{
		PNG: []byte{0x89, 'P', 'N', 'G'},
		Analysis: &vision.Analysis{Width: 390, Height: 844, Screen: vision.ScreenLogin, Confidence: 0.8,
			Buttons: []vision.Element{{Kind: vision.KindButton}}, Metrics: vision.Metrics{Brightness: 180}},
		Issues: []rules.Issue{{RuleID: "missing_inputs", Severity: core.SeverityMedium, Description: "only 1 input field"}},
	}
}

func TestGenAI_Describe(t *testing.T) {
	f := &fakeModels{reply: "  A login screen with one field.\n"}
	g := &GenAI{models: f, model: "gemini-test"}

	text, err := g.Describe(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, "A login screen with one field.", text)
	assert.Equal(t, "gemini-test", f.model)

	require.Len(t, f.contents, 1)
	parts := f.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "Screen: login (390x844, confidence 0.80)")
	assert.Contains(t, parts[0].Text, "- [medium] missing_inputs: only 1 input field")
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	require.NotNil(t, f.cfg.SystemInstruction)
}

func TestGenAI_DescribeWithoutImage(t *testing.T) {
	f := &fakeModels{reply: "ok"}
	g := &GenAI{models: f, model: "m"}

	in := input()
	in.PNG = nil
	_, err := g.Describe(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, f.contents[0].Parts, 1)
}

func TestGenAI_DescribeFails(t *testing.T) {
	g := &GenAI{models: &fakeModels{err: errors.New("quota exceeded")}, model: "m"}
	_, err := g.Describe(context.Background(), input())
	assert.ErrorIs(t, err, ErrDescribeFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNew(t *testing.T) {
	d, err := New(context.Background(), config.DescribeConfig{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, d)
	text, err := d.Describe(context.Background(), input())
	assert.NoError(t, err)
	assert.Empty(t, text)

	_, err = New(context.Background(), config.DescribeConfig{Enabled: true})
	assert.ErrorIs(t, err, core.ErrMissingRequired)
}

func TestPrompt_NoFindings(t *testing.T) {
	p := Prompt(nil, nil)
	assert.Equal(t, "Findings: none\n", p)
}
