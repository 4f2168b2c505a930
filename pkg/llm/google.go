package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/agora-ai/agora/pkg/models"
)

// geminiProvider speaks the Gemini API. It is the only provider that returns
// generated media: inline image parts are surfaced as MediaChunks with the
// part's thought signature carried along base64-encoded.
type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGeminiProvider(cfg *models.LLMConfig) (*geminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: cfg.Model}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	contents, config, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini chat: empty candidates")
	}

	out := &ChatResponse{FinishReason: string(resp.Candidates[0].FinishReason)}
	var text, thinking strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		collectGeminiPart(part, &text, &thinking, out)
	}
	out.Content = text.String()
	out.Thinking = thinking.String()
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *geminiProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	contents, config, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		var usage *Usage
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				out <- &ErrorChunk{Message: err.Error(), Retryable: true}
				return
			}
			if u := resp.UsageMetadata; u != nil {
				usage = &Usage{
					InputTokens:  int(u.PromptTokenCount),
					OutputTokens: int(u.CandidatesTokenCount),
					TotalTokens:  int(u.TotalTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				emitGeminiPart(part, out)
			}
		}
		if usage != nil {
			out <- &UsageChunk{Usage: *usage}
		}
	}()
	return out, nil
}

func collectGeminiPart(part *genai.Part, text, thinking *strings.Builder, out *ChatResponse) {
	if part == nil {
		return
	}
	switch {
	case part.Text != "" && part.Thought:
		thinking.WriteString(part.Text)
	case part.Text != "":
		text.WriteString(part.Text)
	case part.FunctionCall != nil:
		out.ToolCalls = append(out.ToolCalls, geminiToolCall(part.FunctionCall))
	case part.InlineData != nil:
		out.Media = append(out.Media, geminiMediaItem(part))
	}
}

func emitGeminiPart(part *genai.Part, out chan<- Chunk) {
	if part == nil {
		return
	}
	switch {
	case part.Text != "" && part.Thought:
		out <- &ThinkingChunk{Content: part.Text}
	case part.Text != "":
		out <- &TextChunk{Content: part.Text}
	case part.FunctionCall != nil:
		out <- &ToolCallChunk{Call: geminiToolCall(part.FunctionCall)}
	case part.InlineData != nil:
		out <- &MediaChunk{Items: []models.MediaItem{geminiMediaItem(part)}}
	}
}

func geminiToolCall(fc *genai.FunctionCall) ToolCall {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		args = []byte("{}")
	}
	return ToolCall{ID: fc.ID, Name: fc.Name, Arguments: string(args)}
}

func geminiMediaItem(part *genai.Part) models.MediaItem {
	item := models.MediaItem{
		Type:     models.TypeFromMime(part.InlineData.MIMEType),
		MimeType: part.InlineData.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
	}
	if len(part.ThoughtSignature) > 0 {
		item.ThoughtSignature = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
	}
	return item
}

func (p *geminiProvider) buildRequest(req *ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	switch req.ToolChoice {
	case "", "auto":
	case "none":
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone},
		}
	default:
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ToolChoice},
			},
		}
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		content, err := toGeminiContent(m)
		if err != nil {
			return nil, nil, err
		}
		if content != nil {
			contents = append(contents, content)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: at least one message is required")
	}
	return contents, config, nil
}

func toGeminiContent(m ChatMessage) (*genai.Content, error) {
	role := genai.RoleUser
	if m.Role == models.RoleAssistant {
		role = genai.RoleModel
	}

	var parts []*genai.Part
	if m.ToolCallID != "" {
		name := m.ToolName
		if name == "" {
			name = m.ToolCallID
		}
		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       m.ToolCallID,
			Name:     name,
			Response: map[string]any{"result": m.Content},
		}})
		return &genai.Content{Role: genai.RoleUser, Parts: parts}, nil
	}

	if m.Content != "" {
		parts = append(parts, &genai.Part{Text: m.Content})
	}
	for _, item := range m.Media {
		if item.Data == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return nil, fmt.Errorf("gemini: decode media data: %w", err)
		}
		part := &genai.Part{InlineData: &genai.Blob{MIMEType: item.MimeType, Data: raw}}
		// Round-trip the opaque signature unchanged so follow-up turns that
		// reference prior generated media are accepted.
		if item.ThoughtSignature != "" {
			sig, err := base64.StdEncoding.DecodeString(item.ThoughtSignature)
			if err != nil {
				return nil, fmt.Errorf("gemini: decode thought signature: %w", err)
			}
			part.ThoughtSignature = sig
		}
		parts = append(parts, part)
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   tc.ID,
			Name: tc.Name,
			Args: args,
		}})
	}

	if len(parts) == 0 {
		return nil, nil
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}
