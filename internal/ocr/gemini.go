package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const transcribePrompt = "Transcribe all text visible in this payment proof exactly as printed. " +
	"Return plain text only, without commentary or formatting."

// GeminiRecognizer implements TextRecognizer with a Gemini multimodal model.
type GeminiRecognizer struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

var _ TextRecognizer = (*GeminiRecognizer)(nil)

// NewGeminiRecognizer returns ErrNoCredentials when apiKey is empty so callers
// can run without a vision backend.
func NewGeminiRecognizer(ctx context.Context, apiKey, model string) (*GeminiRecognizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoCredentials
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(0)

	return &GeminiRecognizer{client: client, model: m}, nil
}

func (g *GeminiRecognizer) RecognizeText(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := g.model.GenerateContent(ctx,
		genai.Text(transcribePrompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
		// first candidate with content is enough
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return sb.String(), nil
}

func (g *GeminiRecognizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
