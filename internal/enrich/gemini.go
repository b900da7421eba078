package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for explanations.
const DefaultModelName = "gemini-2.5-flash"

const systemPrompt = "You are a fintech reconciliation expert. " +
	"Answer in at most three short sentences of plain text, no Markdown."

// GeminiExplainer is the Explainer backed by the Gemini API.
type GeminiExplainer struct {
	client *genai.Client
	model  string
}

// NewGeminiExplainer creates a Gemini client. An empty apiKey lets the SDK
// fall back to GOOGLE_API_KEY / GEMINI_API_KEY.
func NewGeminiExplainer(ctx context.Context, apiKey, model string) (*GeminiExplainer, error) {
	if model == "" {
		model = DefaultModelName
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExplainer: create genai client: %w", err)
	}

	return &GeminiExplainer{client: client, model: model}, nil
}

// Explain asks the model why the discrepancy happened and what to do about it.
func (g *GeminiExplainer) Explain(ctx context.Context, d domain.Discrepancy) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: BuildPrompt(d)}},
		},
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("GeminiExplainer.Explain: generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("GeminiExplainer.Explain: empty response from model")
	}
	return text, nil
}

// BuildPrompt renders the per-record question sent to the model.
func BuildPrompt(d domain.Discrepancy) string {
	var b strings.Builder
	b.WriteString("You are a fintech reconciliation assistant. Analyze the following discrepancy:\n\n")
	fmt.Fprintf(&b, "Transaction ID: %s\n", d.TxID)
	fmt.Fprintf(&b, "Discrepancy Type: %s\n", d.Type)
	fmt.Fprintf(&b, "Internal Data: amount=%s, status=%s, currency=%s\n",
		formatAmount(d.AmountInternal()), orNA(d.StatusInternal()), currencyOf(d.Internal))
	fmt.Fprintf(&b, "Gateway Data: amount=%s, status=%s, currency=%s\n\n",
		formatAmount(d.AmountGateway()), orNA(d.StatusGateway()), currencyOf(d.Gateway))
	b.WriteString("Explain clearly why this might have happened and what action should be taken.")
	return b.String()
}

func currencyOf(r *domain.Record) string {
	if r == nil || r.Currency == nil {
		return "N/A"
	}
	return *r.Currency
}
