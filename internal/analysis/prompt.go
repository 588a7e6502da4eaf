package analysis

import (
	"strings"

	"github.com/wildscope/wildscope/internal/storage"
	"github.com/wildscope/wildscope/internal/together"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// defaultPrompt is the survey instruction used when the caller does not
// supply one.
const defaultPrompt = `Analyze this video for wildlife detection. For each frame:
1. Identify all animals visible
2. Note their species if recognizable
3. Describe their behavior
4. Estimate time of appearance
5. Note any notable patterns or behaviors

Provide a comprehensive summary of all wildlife observed.`

// formatInstruction steers the model toward the structured answer the
// species parser understands.
const formatInstruction = `Begin your answer with a section of the form:

SPECIES DETECTED:
- <species name>
- <species name>

listing each distinct animal once, followed by a blank line and a section
starting with DETAILED ANALYSIS: containing the full write-up. If no
animals are visible, skip straight to DETAILED ANALYSIS:.`

// BuildMessages assembles the outbound conversation: the format
// instruction, any prior turns, then the user prompt with its frames.
func BuildMessages(prompt string, history []together.Message, imageURIs []string) []together.Message {
	messages := make([]together.Message, 0, len(history)+2)
	messages = append(messages, together.TextMessage(roleSystem, formatInstruction))
	messages = append(messages, history...)
	messages = append(messages, together.VisionMessage(effectivePrompt(prompt), imageURIs))
	return messages
}

// HistoryMessages converts stored turns into chat messages, oldest
// first.
func HistoryMessages(turns []storage.Turn) []together.Message {
	out := make([]together.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, together.TextMessage(t.Role, t.Content))
	}
	return out
}

func effectivePrompt(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return defaultPrompt
	}
	return prompt
}
