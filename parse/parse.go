// Package parse turns an assistant Message's Markdown content into a
// aicode.ParsedResponse: front matter, fenced code blocks, and tool-call
// directives. It never validates business rules — only shape.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nevindra/aicode"
)

var (
	frontMatterRe = regexp.MustCompile(`(?s)^\s*---\s*\n(.*?)\n---\s*`)
	blockStartRe  = regexp.MustCompile(`^\s*<!--\s*Block-Start:\s*(\{.*?\})\s*-->\s*$`)
	blockEndRe    = regexp.MustCompile(`^\s*<!--\s*Block-End:\s*(\{.*?\})\s*-->\s*$`)
	fenceRe       = regexp.MustCompile("^(`{3,})(\\w+)?\\s*$")
	toolCallRe    = regexp.MustCompile(`(?s)<!--\s*ToolCall:\s*(\{.*?\})\s*-->`)
)

// Go's RE2 engine (used by regexp) has no backreferences, so it cannot
// express the source grammar's "closing fence has the same tick count as
// the opening one" directly in one pattern. ParseResponse instead scans
// line by line and compares the closing line against the exact opening
// tick string, which is equivalent for any well-formed input and degrades
// to a parse error for malformed fences instead of silently matching the
// wrong boundary.

// ParseResponse parses msg's content into a ParsedResponse; msg itself becomes
// the response's Message field. parseMCP enables the MCP-call fallback scan
// (section 4.4.4).
func ParseResponse(msg aicode.ChatMessage, parseMCP bool) aicode.ParsedResponse {
	resp := aicode.ParsedResponse{Message: msg}
	content := msg.Message.TextContent()

	status, pos, fmErrs := parseFrontMatter(content)
	resp.TaskStatus = status
	resp.ContentPos = pos
	if pos > 0 {
		content = content[pos:]
	}
	resp.Errors = append(resp.Errors, fmErrs...)

	blocks, blockErrs := parseCodeBlocks(content)
	resp.CodeBlocks = blocks
	resp.Errors = append(resp.Errors, blockErrs...)

	calls, callErrs := parseToolCalls(content)
	resp.Errors = append(resp.Errors, callErrs...)

	if parseMCP {
		mcpCalls, mcpErrs := parseMCPCalls(content, blocks)
		calls = append(calls, mcpCalls...)
		resp.Errors = append(resp.Errors, mcpErrs...)
	}
	resp.ToolCalls = calls

	return resp
}

// --- front matter ---

type frontMatterDoc struct {
	TaskStatus map[string]any `yaml:"task_status"`
}

func parseFrontMatter(content string) (*aicode.TaskStatus, int, []aicode.ParseError) {
	m := frontMatterRe.FindStringSubmatchIndex(content)
	if m == nil {
		return nil, 0, nil
	}
	yamlStr := content[m[2]:m[3]]
	contentPos := m[1]

	var doc frontMatterDoc
	if err := yaml.Unmarshal([]byte(yamlStr), &doc); err != nil {
		return nil, contentPos, []aicode.ParseError{{
			Type: aicode.ErrInvalidFormat, Message: "invalid front matter", Raw: yamlStr,
		}}
	}
	if doc.TaskStatus == nil {
		return nil, contentPos, nil
	}

	status, err := decodeTaskStatus(doc.TaskStatus)
	if err != nil {
		return nil, contentPos, []aicode.ParseError{{
			Type: aicode.ErrPydanticValidation, Message: "invalid front matter: " + err.Error(), Raw: yamlStr,
		}}
	}
	return status, contentPos, nil
}

func decodeTaskStatus(raw map[string]any) (*aicode.TaskStatus, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var ts aicode.TaskStatus
	if err := json.Unmarshal(b, &ts); err != nil {
		return nil, err
	}
	if !ts.Completed && ts.Status == "" {
		return nil, errNoTaskStatusDiscriminator
	}
	return &ts, nil
}

var errNoTaskStatusDiscriminator = taskStatusErr("task_status must set completed:true or a status")

type taskStatusErr string

func (e taskStatusErr) Error() string { return string(e) }

// --- code blocks ---

func parseCodeBlocks(content string) ([]aicode.CodeBlock, []aicode.ParseError) {
	lines := strings.Split(content, "\n")
	var blocks []aicode.CodeBlock
	var errs []aicode.ParseError

	for i := 0; i < len(lines); i++ {
		sm := blockStartRe.FindStringSubmatch(lines[i])
		if sm == nil {
			continue
		}
		startJSON := sm[1]
		var start struct {
			Name    string `json:"name"`
			Version int    `json:"version"`
			Path    string `json:"path"`
		}
		if err := json.Unmarshal([]byte(startJSON), &start); err != nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrJSONDecode, Message: "invalid JSON in Block-Start", Raw: startJSON})
			continue
		}

		fenceLine := i + 1
		if fenceLine >= len(lines) {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "Block-Start not followed by a fenced code block"})
			break
		}
		fm := fenceRe.FindStringSubmatch(lines[fenceLine])
		if fm == nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "Block-Start not followed by a fenced code block"})
			continue
		}
		ticks, lang := fm[1], fm[2]

		codeStart := fenceLine + 1
		closeIdx := -1
		for j := codeStart; j < len(lines); j++ {
			if strings.TrimRight(lines[j], " \t") == ticks {
				closeIdx = j
				break
			}
		}
		if closeIdx == -1 {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "unterminated fenced code block", Raw: start.Name})
			i = fenceLine
			continue
		}

		endLine := closeIdx + 1
		if endLine >= len(lines) {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "Block-End not found", Raw: start.Name})
			break
		}
		em := blockEndRe.FindStringSubmatch(lines[endLine])
		if em == nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "Block-End not found", Raw: start.Name})
			i = closeIdx
			continue
		}
		var end struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(em[1]), &end); err != nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrJSONDecode, Message: "invalid JSON in Block-End", Raw: em[1]})
			i = endLine
			continue
		}
		if start.Name == "" || start.Name != end.Name {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrInvalidFormat, Message: "Block-Start and Block-End name mismatch"})
			i = endLine
			continue
		}

		if lang == "" {
			lang = "markdown"
		}
		code := strings.Join(lines[codeStart:closeIdx], "\n")
		blocks = append(blocks, aicode.CodeBlock{
			Name: start.Name,
			Lang: lang,
			Code: code,
			Path: start.Path,
			// Version increments are the registry's job, not the parser's.
			Version: 1,
		})
		i = endLine
	}
	return blocks, errs
}

// --- tool calls ---

var validToolNames = map[aicode.ToolName]bool{
	aicode.ToolExec: true, aicode.ToolEdit: true, aicode.ToolMCP: true,
}

func parseToolCalls(content string) ([]aicode.ToolCall, []aicode.ParseError) {
	var calls []aicode.ToolCall
	var errs []aicode.ParseError
	for _, m := range toolCallRe.FindAllStringSubmatch(content, -1) {
		jsonStr := m[1]
		var tc aicode.ToolCall
		if err := json.Unmarshal([]byte(jsonStr), &tc); err != nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrJSONDecode, Message: "invalid JSON in ToolCall", Raw: jsonStr})
			continue
		}
		if !validToolNames[tc.Name] {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrPydanticValidation, Message: "invalid ToolCall name: " + string(tc.Name), Raw: jsonStr})
			continue
		}
		calls = append(calls, tc)
	}
	return calls, errs
}

// --- MCP fallback ---

// mcpCandidate is the shape scanned for in JSON code blocks and bare
// Markdown: an object carrying both a tool identity (name, or its alias
// action) and an arguments object.
type mcpCandidate struct {
	Name      string          `json:"name"`
	Action    string          `json:"action"`
	Server    string          `json:"server"`
	Arguments json.RawMessage `json:"arguments"`
}

var bareJSONObjectRe = regexp.MustCompile(`(?s)\{[^{}]*"arguments"[^{}]*\{[^{}]*\}[^{}]*\}`)

func parseMCPCalls(content string, blocks []aicode.CodeBlock) ([]aicode.ToolCall, []aicode.ParseError) {
	var calls []aicode.ToolCall
	var errs []aicode.ParseError

	add := func(raw []byte) {
		var cand mcpCandidate
		if err := json.Unmarshal(raw, &cand); err != nil {
			return
		}
		name := cand.Name
		if name == "" {
			name = cand.Action
		}
		if name == "" || cand.Arguments == nil {
			return
		}
		args, err := json.Marshal(aicode.MCPArgs{Tool: name, Server: cand.Server, Arguments: cand.Arguments})
		if err != nil {
			errs = append(errs, aicode.ParseError{Type: aicode.ErrPydanticValidation, Message: "invalid MCPToolCall data: " + err.Error()})
			return
		}
		calls = append(calls, aicode.ToolCall{Name: aicode.ToolMCP, Arguments: args})
	}

	for _, b := range blocks {
		if b.Lang != "json" {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(b.Code), &arr); err == nil {
			for _, raw := range arr {
				add(raw)
			}
			continue
		}
		add(json.RawMessage(b.Code))
	}

	if len(calls) == 0 {
		for _, m := range bareJSONObjectRe.FindAllString(content, -1) {
			add([]byte(m))
		}
	}

	return calls, errs
}
