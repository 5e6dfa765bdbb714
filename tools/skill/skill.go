// Package skill exposes task-template management to agents through the
// standard Tool interface. A skill is a stored system-prompt-and-tool-allowlist
// bundle; agents can search for, create, and update skills at runtime,
// letting learned task patterns become reusable instruction packages without
// a code change.
package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	oasis "github.com/nevindra/aicode"
)

// Skill is a stored task template: a system-prompt fragment plus an
// optional tool allowlist and model override, applied when an agent run
// adopts it.
type Skill struct {
	ID           string
	Name         string
	Description  string
	Instructions string
	Tags         []string
	Tools        []string
	Model        string
	References   []string
	CreatedBy    string
	CreatedAt    int64
	UpdatedAt    int64
}

// Store persists skills. Search is keyword-based: there is no embedding
// provider in this runtime, so matching ranks by term overlap against
// name, description, and tags rather than semantic similarity.
type Store interface {
	CreateSkill(ctx context.Context, skill Skill) error
	GetSkill(ctx context.Context, id string) (Skill, error)
	ListSkills(ctx context.Context) ([]Skill, error)
	UpdateSkill(ctx context.Context, skill Skill) error
	DeleteSkill(ctx context.Context, id string) error
}

// Tool manages skills — stored instruction packages that specialize agent behavior.
type Tool struct {
	store Store
	topK  int
}

// Compile-time interface check.
var _ oasis.Tool = (*Tool)(nil)

// New creates a skill Tool backed by store.
func New(store Store) *Tool {
	return &Tool{store: store, topK: 5}
}

func (t *Tool) Definitions() []oasis.ToolDefinition {
	return []oasis.ToolDefinition{
		{
			Name:        "skill_search",
			Description: "Search for relevant skills by keyword match against a query. Returns the top matching skills with their descriptions and instructions.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"query":{"type":"string","description":"Natural language query to find relevant skills"}
			},"required":["query"]}`),
		},
		{
			Name:        "skill_create",
			Description: "Create a new skill from experience. A skill is a stored instruction package that can specialize agent behavior for specific tasks.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"name":{"type":"string","description":"Short identifier for the skill (e.g. code-reviewer, data-analyst)"},
				"description":{"type":"string","description":"What this skill does, used for keyword search matching"},
				"instructions":{"type":"string","description":"Detailed instructions injected into the agent system prompt when this skill is active"},
				"tags":{"type":"array","items":{"type":"string"},"description":"Optional categorization labels"},
				"tools":{"type":"array","items":{"type":"string"},"description":"Optional list of tool names this skill should use (empty = all)"},
				"model":{"type":"string","description":"Optional model override"},
				"references":{"type":"array","items":{"type":"string"},"description":"Optional skill IDs this skill builds on"}
			},"required":["name","description","instructions"]}`),
		},
		{
			Name:        "skill_update",
			Description: "Update an existing skill. Only provided fields are changed; omitted fields keep their current values.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"id":{"type":"string","description":"ID of the skill to update"},
				"name":{"type":"string","description":"New name"},
				"description":{"type":"string","description":"New description"},
				"instructions":{"type":"string","description":"New instructions"},
				"tags":{"type":"array","items":{"type":"string"},"description":"New tags (replaces existing)"},
				"tools":{"type":"array","items":{"type":"string"},"description":"New tool list (replaces existing)"},
				"model":{"type":"string","description":"New model override"},
				"references":{"type":"array","items":{"type":"string"},"description":"New skill references (replaces existing)"}
			},"required":["id"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (oasis.ToolResult, error) {
	var result string
	var err error

	switch name {
	case "skill_search":
		result, err = t.handleSearch(ctx, args)
	case "skill_create":
		result, err = t.handleCreate(ctx, args)
	case "skill_update":
		result, err = t.handleUpdate(ctx, args)
	default:
		return oasis.ToolResult{Error: "unknown skill tool: " + name}, nil
	}

	if err != nil {
		return oasis.ToolResult{Error: err.Error()}, nil
	}
	return oasis.ToolResult{Content: result}, nil
}

type scoredSkill struct {
	Skill
	Score float64
}

func (t *Tool) handleSearch(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	all, err := t.store.ListSkills(ctx)
	if err != nil {
		return "", err
	}

	terms := queryTerms(p.Query)
	var scored []scoredSkill
	for _, sk := range all {
		score := skillMatchScore(terms, sk)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredSkill{Skill: sk, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > t.topK {
		scored = scored[:t.topK]
	}

	if len(scored) == 0 {
		return "no skills found matching query", nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d skill(s) found:\n\n", len(scored))
	for i, r := range scored {
		fmt.Fprintf(&out, "%d. %s (score: %.2f)\n   ID: %s\n   %s\n",
			i+1, r.Name, r.Score, r.ID, r.Description)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&out, "   Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if r.CreatedBy != "" {
			fmt.Fprintf(&out, "   Created by: %s\n", r.CreatedBy)
		}
		fmt.Fprintf(&out, "   Instructions: %s\n\n", r.Instructions)
	}
	return out.String(), nil
}

func (t *Tool) handleCreate(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Instructions string   `json:"instructions"`
		Tags         []string `json:"tags"`
		Tools        []string `json:"tools"`
		Model        string   `json:"model"`
		References   []string `json:"references"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.Name == "" || p.Description == "" || p.Instructions == "" {
		return "", fmt.Errorf("name, description, and instructions are required")
	}

	now := oasis.NowUnix()
	sk := Skill{
		ID:           oasis.NewID(),
		Name:         p.Name,
		Description:  p.Description,
		Instructions: p.Instructions,
		Tools:        p.Tools,
		Model:        p.Model,
		Tags:         p.Tags,
		CreatedBy:    "unknown",
		References:   p.References,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := t.store.CreateSkill(ctx, sk); err != nil {
		return "", err
	}

	return fmt.Sprintf("created skill %q (id: %s)", sk.Name, sk.ID), nil
}

func (t *Tool) handleUpdate(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		ID           string   `json:"id"`
		Name         *string  `json:"name"`
		Description  *string  `json:"description"`
		Instructions *string  `json:"instructions"`
		Tags         []string `json:"tags"`
		Tools        []string `json:"tools"`
		Model        *string  `json:"model"`
		References   []string `json:"references"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("skill id is required")
	}

	sk, err := t.store.GetSkill(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("skill not found: %w", err)
	}

	var changes []string
	if p.Name != nil {
		sk.Name = *p.Name
		changes = append(changes, "name")
	}
	if p.Description != nil {
		sk.Description = *p.Description
		changes = append(changes, "description")
	}
	if p.Instructions != nil {
		sk.Instructions = *p.Instructions
		changes = append(changes, "instructions")
	}
	if p.Tags != nil {
		sk.Tags = p.Tags
		changes = append(changes, "tags")
	}
	if p.Tools != nil {
		sk.Tools = p.Tools
		changes = append(changes, "tools")
	}
	if p.Model != nil {
		sk.Model = *p.Model
		changes = append(changes, "model")
	}
	if p.References != nil {
		sk.References = p.References
		changes = append(changes, "references")
	}

	if len(changes) == 0 {
		return "no changes specified", nil
	}

	sk.UpdatedAt = oasis.NowUnix()
	if err := t.store.UpdateSkill(ctx, sk); err != nil {
		return "", err
	}

	return fmt.Sprintf("updated skill %q: %s", sk.Name, strings.Join(changes, ", ")), nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func skillMatchScore(terms []string, sk Skill) float64 {
	if len(terms) == 0 {
		return 0
	}
	name := strings.ToLower(sk.Name)
	desc := strings.ToLower(sk.Description)
	tags := strings.ToLower(strings.Join(sk.Tags, " "))

	var score float64
	for _, term := range terms {
		if strings.Contains(name, term) {
			score += 3
		}
		if strings.Contains(tags, term) {
			score += 2
		}
		if strings.Contains(desc, term) {
			score += 1
		}
	}
	return score / float64(len(terms))
}
