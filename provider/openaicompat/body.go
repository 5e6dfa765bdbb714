package openaicompat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	oasis "github.com/nevindra/aicode"
)

// BuildBody converts oasis ChatMessages and a model name into an OpenAI-format ChatRequest.
// Tool vocabulary is advertised via the native "tools" field, but a reply's
// tool-call directives always travel as Markdown inside message content, not
// as a native tool_calls response — the wire-level tools field is purely
// descriptive grounding for the model.
func BuildBody(messages []oasis.ChatMessage, tools []oasis.ToolDefinition, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))

	for _, cm := range messages {
		m := cm.Message
		role := string(m.Role)

		if len(m.Content) == 1 && m.Content[0].Type == oasis.ContentText {
			msgs = append(msgs, Message{Role: role, Content: m.Content[0].Text})
			continue
		}

		blocks := make([]ContentBlock, 0, len(m.Content))
		for _, item := range m.Content {
			switch item.Type {
			case oasis.ContentText:
				blocks = append(blocks, ContentBlock{Type: "text", Text: item.Text})
			case oasis.ContentImageURL:
				url := item.URL
				if url == "" && len(item.Data) > 0 {
					url = fmt.Sprintf("data:%s;base64,%s", item.MIME, base64.StdEncoding.EncodeToString(item.Data))
				}
				blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}})
			case oasis.ContentFile:
				url := item.URL
				if url == "" && len(item.Data) > 0 {
					url = fmt.Sprintf("data:%s;base64,%s", item.MIME, base64.StdEncoding.EncodeToString(item.Data))
				}
				blocks = append(blocks, ContentBlock{Type: "file", File: &FileData{URL: url}})
			}
		}
		msgs = append(msgs, Message{Role: role, Content: blocks})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}

	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}

	for _, opt := range opts {
		opt(&req)
	}

	return req
}

// BuildToolDefs converts oasis ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []oasis.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
