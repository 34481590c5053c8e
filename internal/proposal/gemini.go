package proposal

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGenerator 通过 Gemini API 生成符合草案 schema 的 JSON。
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   proposalSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}

func proposalSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"projectTitle":       str("The title of the project"),
			"projectDescription": str("A detailed description of the project"),
			"milestones": {
				Type:        genai.TypeArray,
				Description: "Array of project milestones",
				MinItems:    int64Ptr(minMilestones),
				MaxItems:    int64Ptr(maxMilestones),
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       str("The title of the milestone"),
						"dueDate":     str("The due date of the milestone in YYYY-MM-DD format"),
						"description": str("A detailed description of the milestone"),
						"amount": {
							Type:        genai.TypeNumber,
							Description: "The budget amount for this milestone in USD",
						},
					},
					Required: []string{"title", "dueDate", "description", "amount"},
				},
			},
		},
		Required: []string{"projectTitle", "projectDescription", "milestones"},
	}
}

func int64Ptr(v int64) *int64 { return &v }
