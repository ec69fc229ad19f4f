package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds the instructions for each derivation task. User templates
// may reference {transcript}, {question} and {summary}.
type Prompts struct {
	AnswerSystem      string `yaml:"answer_system"`
	AnswerUser        string `yaml:"answer_user"`
	ChunkSystem       string `yaml:"chunk_system"`
	ChunkUser         string `yaml:"chunk_user"`
	MinutesSystem     string `yaml:"minutes_system"`
	MinutesUser       string `yaml:"minutes_user"`
	ActionItemsSystem string `yaml:"action_items_system"`
	ActionItemsUser   string `yaml:"action_items_user"`
}

// DefaultPrompts returns the built-in instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		AnswerSystem: "You are an AI assistant helping with meeting discussions.",
		AnswerUser:   "Here is the meeting transcription so far: {transcript}. The user has a question: '{question}'. Please provide a response.",

		ChunkSystem: "You summarize a fragment of a meeting transcript. Keep decisions, numbers, owners and open questions.",
		ChunkUser:   "Summarize this part of the meeting:\n{transcript}",

		MinutesSystem: "You write concise meeting minutes: topics discussed, decisions and next steps.",
		MinutesUser:   "Write the meeting minutes for this meeting:\n{summary}",

		ActionItemsSystem: "You extract action items from meetings. List one item per line with the owner when known.",
		ActionItemsUser:   "List the action items from this meeting:\n{summary}",
	}
}

// LoadPrompts overlays the non-empty fields of a YAML file on the defaults.
// An empty path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompts: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse prompts: %w", err)
	}

	merge := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	merge(&p.AnswerSystem, override.AnswerSystem)
	merge(&p.AnswerUser, override.AnswerUser)
	merge(&p.ChunkSystem, override.ChunkSystem)
	merge(&p.ChunkUser, override.ChunkUser)
	merge(&p.MinutesSystem, override.MinutesSystem)
	merge(&p.MinutesUser, override.MinutesUser)
	merge(&p.ActionItemsSystem, override.ActionItemsSystem)
	merge(&p.ActionItemsUser, override.ActionItemsUser)
	return p, nil
}

// Render substitutes {name} placeholders in a template.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
