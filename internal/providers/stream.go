package providers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// StreamEvent is one server-sent event from a streaming response.
type StreamEvent struct {
	Data []byte
	Done bool
}

// StreamReader decodes the SSE framing of a streaming chat response.
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamReader wraps a response body stream.
func NewStreamReader(r io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(r)
	// Chunks with long content deltas can exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &StreamReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read returns the next data event. It reports io.EOF after the [DONE]
// marker or when the upstream closes the stream.
func (s *StreamReader) Read() (*StreamEvent, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		data := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(data, []byte("[DONE]")) {
			return &StreamEvent{Done: true}, io.EOF
		}

		return &StreamEvent{Data: data}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return &StreamEvent{Done: true}, io.EOF
}

// Close closes the underlying stream.
func (s *StreamReader) Close() error {
	return s.closer.Close()
}

// StreamTally accumulates usage while events pass through to the caller.
// When the upstream never reports usage, Final falls back to a character
// based token estimate.
type StreamTally struct {
	usage        Usage
	usageSeen    bool
	contentChars int
}

// Observe inspects one event's payload for usage or content deltas.
func (t *StreamTally) Observe(data []byte) {
	var chunk struct {
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}

	if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
		t.usage = Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
		t.usageSeen = true
	}

	for _, choice := range chunk.Choices {
		t.contentChars += len(choice.Delta.Content)
	}
}

// Final returns the tallied usage. promptChars sizes the input estimate
// when the upstream reported nothing.
func (t *StreamTally) Final(promptChars int) Usage {
	if t.usageSeen {
		return t.usage
	}

	usage := Usage{
		InputTokens:  EstimateTokens(promptChars),
		OutputTokens: EstimateTokens(t.contentChars),
		Estimated:    true,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return usage
}

// EstimateTokens approximates a token count from a character count. Four
// characters per token tracks English text closely enough for billing
// fallback; real counts always win when the upstream reports them.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	tokens := chars / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
