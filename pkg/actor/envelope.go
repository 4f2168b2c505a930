package actor

import (
	"strings"

	"github.com/agora-ai/agora/pkg/models"
)

// NormalizeMedia coerces a loose media payload (typed items, ext maps, or
// a mix) into clean MediaItems. Data URLs are split into mime and base64,
// whitespace inside base64 is stripped, the media type is inferred from
// the mime prefix when missing, and items with neither data nor url are
// dropped. ThoughtSignature passes through verbatim. The function is
// idempotent: normalising an already-normal list is a no-op.
func NormalizeMedia(raw any) []models.MediaItem {
	var items []any
	switch v := raw.(type) {
	case nil:
		return nil
	case []models.MediaItem:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case []any:
		items = v
	case []map[string]any:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	case models.MediaItem:
		items = []any{v}
	case map[string]any:
		items = []any{v}
	default:
		return nil
	}

	var out []models.MediaItem
	for _, it := range items {
		var item models.MediaItem
		switch m := it.(type) {
		case models.MediaItem:
			item = m
		case *models.MediaItem:
			if m == nil {
				continue
			}
			item = *m
		case map[string]any:
			item = mediaFromMap(m)
		default:
			continue
		}

		if strings.HasPrefix(item.Data, "data:") {
			mime, payload := splitDataURL(item.Data)
			if mime != "" && item.MimeType == "" {
				item.MimeType = mime
			}
			item.Data = payload
		}
		item.Data = stripBase64Whitespace(item.Data)
		if item.Type == "" {
			item.Type = models.TypeFromMime(item.MimeType)
		}
		if item.Data == "" && item.URL == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func mediaFromMap(m map[string]any) models.MediaItem {
	str := func(keys ...string) string {
		for _, k := range keys {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return models.MediaItem{
		Type:             models.MediaType(str("type")),
		MimeType:         str("mimeType", "mime_type"),
		Data:             str("data"),
		URL:              str("url"),
		ThoughtSignature: str("thoughtSignature"),
	}
}

// splitDataURL splits "data:<mime>;base64,<payload>" into its parts.
// Returns ("", original) when the string is not a data URL.
func splitDataURL(s string) (mime, payload string) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", s
	}
	head, body, ok := strings.Cut(rest, ",")
	if !ok {
		return "", s
	}
	mime, _, _ = strings.Cut(head, ";")
	return mime, body
}

func stripBase64Whitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

// buildReplyExt assembles the four-category reply envelope: the full
// execution log, the agent_mind trace, extracted content (media and MCP
// results), and the legacy flat processMessages/log/media mirrors older
// clients still read.
func buildReplyExt(ictx *IterationContext, media []models.MediaItem) map[string]any {
	ext := map[string]any{
		"agent_log": ictx.ExecutionLogs,
		"agent_mind": map[string]any{
			"nodes": mindNodes(ictx),
		},
	}

	content := map[string]any{}
	if len(media) > 0 {
		content["media"] = media
	}
	if len(ictx.MCPResults) > 0 {
		content["mcpResults"] = ictx.MCPResults
	}
	if len(content) > 0 {
		ext["agent_ext_content"] = content
	}

	ext["processMessages"] = legacyProcessMessages(ictx)
	ext["log"] = ictx.ExecutionLogs
	if len(media) > 0 {
		ext["media"] = media
	}
	if ictx.ActionChainID != "" {
		ext["action_chain_id"] = ictx.ActionChainID
	}
	return ext
}

// mindNodes projects process steps into agent_mind nodes.
func mindNodes(ictx *IterationContext) []map[string]any {
	nodes := make([]map[string]any, 0, len(ictx.ProcessSteps))
	for _, s := range ictx.ProcessSteps {
		node := map[string]any{
			"id":        s.ID,
			"type":      s.Type,
			"timestamp": s.Timestamp,
			"status":    s.Status,
			"title":     s.Title,
		}
		if s.Content != "" {
			node["content"] = s.Content
		}
		if s.Duration > 0 {
			node["duration"] = s.Duration
		}
		if s.MCP != nil {
			node["mcp"] = s.MCP
		}
		if s.Iteration != nil {
			node["iteration"] = s.Iteration
		}
		if s.Decision != nil {
			node["decision"] = s.Decision
		}
		if s.Error != "" {
			node["error"] = s.Error
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// legacyProcessMessages is the flat trace list older clients render.
func legacyProcessMessages(ictx *IterationContext) []map[string]any {
	out := make([]map[string]any, 0, len(ictx.ProcessSteps))
	for _, s := range ictx.ProcessSteps {
		msg := map[string]any{
			"type":        s.Type,
			"contentType": "text",
			"timestamp":   s.Timestamp,
			"title":       s.Title,
			"content":     s.Content,
			"meta":        map[string]any{"status": s.Status},
		}
		out = append(out, msg)
	}
	return out
}
