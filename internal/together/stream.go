package together

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const doneSentinel = "[DONE]"

// streamChunk is one SSE data event of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CollectStream drains an SSE chat completion body and assembles the
// answer from its content deltas. It returns the full text and the
// number of content-bearing chunks seen. Data lines that are not valid
// chunks are skipped.
func CollectStream(r io.Reader) (string, int, error) {
	var (
		sb     strings.Builder
		chunks int
	)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			payload, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "data:")
			if ok {
				payload = strings.TrimSpace(payload)
				if payload == doneSentinel {
					return sb.String(), chunks, nil
				}
				var chunk streamChunk
				if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr == nil {
					if chunk.Error != nil {
						return sb.String(), chunks, &APIError{Kind: KindStream, Message: chunk.Error.Message}
					}
					for _, choice := range chunk.Choices {
						if choice.Delta.Content != "" {
							sb.WriteString(choice.Delta.Content)
							chunks++
						}
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return sb.String(), chunks, nil
			}
			return sb.String(), chunks, fmt.Errorf("reading stream: %w", err)
		}
	}
}
