package assistant

import (
	"encoding/json"
	"strings"
)

// Wire framing of the upstream SSE stream.
const (
	dataPrefix    = "data: "
	commentPrefix = ":"
	doneSentinel  = "[DONE]"
)

// chatCompletionChunk is the structured payload of a data frame. The delta
// fragment lives at choices[0].delta.content.
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamConsumer reconstructs delta fragments from a chunked SSE byte stream.
//
// Chunk boundaries carry no meaning: they may fall inside a multi-byte
// character, inside a line, or inside a JSON payload. The consumer keeps a
// single pending text buffer and only ever applies complete, parseable data
// frames; everything else stays buffered until more bytes arrive.
//
// A data line that is newline-terminated but fails to parse mid-stream is
// treated as a split-payload artifact: the line is restored (terminator
// included) to the front of the pending buffer and the current pass stops.
// The same failure during the end-of-stream flush is unrecoverable and the
// payload is dropped silently. This asymmetry is intentional.
//
// Not safe for concurrent use; a consumer belongs to exactly one session.
type StreamConsumer struct {
	decoder TextDecoder
	buf     string
	done    bool
	flushed bool
}

func NewStreamConsumer() *StreamConsumer {
	return &StreamConsumer{}
}

// Feed consumes one raw chunk and returns the delta fragments completed by
// it, in arrival order. done reports that the termination sentinel has been
// seen; no frame after it is ever applied.
func (c *StreamConsumer) Feed(chunk []byte) (deltas []string, done bool) {
	if c.done {
		return nil, true
	}
	c.buf += c.decoder.Decode(chunk)
	return c.drain(false), c.done
}

// Flush runs the one-shot end-of-stream pass: the retained partial line is
// promoted to a full line and classified under the final-pass parse rules.
func (c *StreamConsumer) Flush() []string {
	if c.flushed || c.done {
		c.flushed = true
		return nil
	}
	c.flushed = true

	c.buf += c.decoder.Flush()
	if c.buf != "" && !strings.HasSuffix(c.buf, "\n") {
		c.buf += "\n"
	}
	return c.drain(true)
}

// Terminated reports whether the termination sentinel has been seen.
func (c *StreamConsumer) Terminated() bool {
	return c.done
}

// drain classifies and applies complete lines from the pending buffer.
func (c *StreamConsumer) drain(final bool) []string {
	var deltas []string

	for {
		idx := strings.IndexByte(c.buf, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimSuffix(c.buf[:idx], "\r")
		c.buf = c.buf[idx+1:]

		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, commentPrefix) {
			// Keep-alive noise.
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			// Protocol noise, never an error.
			continue
		}

		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == doneSentinel {
			// Lines after the sentinel are never classified or applied.
			c.done = true
			c.buf = ""
			return deltas
		}

		delta, err := extractDelta(payload)
		if err != nil {
			if final {
				// Unrecoverable leftover at end of stream.
				continue
			}
			// Assume the payload was split across chunks: restore the line
			// and wait for more bytes.
			c.buf = line + "\n" + c.buf
			return deltas
		}
		if delta != "" {
			deltas = append(deltas, delta)
		}
	}

	return deltas
}

// extractDelta parses a data payload and extracts the content fragment.
// A parse error is recoverable or not depending on the pass; a payload that
// parses but carries no delta yields the empty string and no error.
func extractDelta(payload string) (string, error) {
	var chunk chatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}
