// Package rewriter computes the outbound completion_request frame for a
// chosen client, eliding system prompts and tool catalogs that have not
// changed since the last transmission on that session.
package rewriter

import (
	"strings"
	"time"

	"github.com/relaybridge/chatrelay/internal/domain"
	"github.com/relaybridge/chatrelay/internal/fingerprint"
	"github.com/relaybridge/chatrelay/internal/registry"
)

// responseFormatPreamble is appended verbatim to a system message's
// content when it does not already contain the RESPONSE FORMAT marker.
const responseFormatPreamble = `

====

RESPONSE FORMAT

Your response MUST use the following XML format. Do NOT use code blocks like ` + "```xml" + `.

<content>
[Your response text here. This field is REQUIRED and must contain your main response.]
Write freely - you can include any characters, quotes, brackets, or special symbols. They will be parsed correctly.
</content>
<tool_calls>
[Optional: if you need to call tools, include a JSON array here like [{"name": "tool_name", "arguments": {"key": "value"}}]
If no tools are needed, omit this entire <tool_calls> section entirely.
]
</tool_calls>

IMPORTANT:
1. The <content> tag MUST be present and contain your main response
2. The <tool_calls> section is OPTIONAL - only include it if you're calling tools
3. Do NOT use code block markers (no ` + "```xml" + ` or ` + "```" + `)
4. Write your content naturally - special characters are handled automatically
5. When calling tools, use valid JSON inside <tool_calls>
6. ALWAYS end your response with <response_done> on its own line
`

const responseFormatMarker = "RESPONSE FORMAT"

// Outcome is the product of Rewrite: the outbound frame plus the
// fingerprints that should be recorded on the session once the frame is
// successfully written (Rewrite itself never mutates the session).
type Outcome struct {
	Frame         domain.CompletionRequestFrame
	SystemDigest  *fingerprint.Digest
	SetSystem     bool
	ToolsDigest   *fingerprint.Digest
	SetTools      bool
}

// Rewrite builds the outbound frame for req against session's cached
// fingerprints.
func Rewrite(req domain.ChatCompletionRequest, requestID string, session *registry.ClientSession) (Outcome, error) {
	var systemMsgs []domain.ChatMessage
	var userMsgs []domain.ChatMessage
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemMsgs = append(systemMsgs, m)
		case "user":
			userMsgs = append(userMsgs, m)
		}
	}

	outcome := Outcome{}

	var sysDigest *fingerprint.Digest
	if len(systemMsgs) > 0 {
		contents := make([]string, 0, len(systemMsgs))
		for _, m := range systemMsgs {
			contents = append(contents, m.Content)
		}
		d, err := fingerprint.Compute(fingerprint.TagSystemMessages, contents)
		if err != nil {
			return Outcome{}, err
		}
		sysDigest = &d
	}

	var toolsDigest *fingerprint.Digest
	if len(req.Tools) > 0 {
		d, err := fingerprint.Compute(fingerprint.TagToolCatalog, req.Tools)
		if err != nil {
			return Outcome{}, err
		}
		toolsDigest = &d
	}

	sendSystem := !digestsEqual(sysDigest, session.SystemFingerprint())
	sendTools := !digestsEqual(toolsDigest, session.ToolsFingerprint())

	var outboundMessages []domain.ChatMessage

	if sendSystem && len(systemMsgs) > 0 {
		for _, m := range systemMsgs {
			if !strings.Contains(m.Content, responseFormatMarker) {
				m.Content = m.Content + responseFormatPreamble
			}
			outboundMessages = append(outboundMessages, m)
		}
		outcome.SystemDigest = sysDigest
		outcome.SetSystem = true
	}

	if len(userMsgs) > 0 {
		outboundMessages = append(outboundMessages, userMsgs[len(userMsgs)-1])
	}

	frame := domain.CompletionRequestFrame{
		Type:           domain.FrameCompletionRequest,
		RequestID:      requestID,
		Model:          req.Model,
		Messages:       outboundMessages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		Stream:         false,
		OriginalStream: req.Stream,
		Timestamp:      time.Now().Unix(),
	}

	if sendTools && len(req.Tools) > 0 {
		frame.Tools = req.Tools
		outcome.ToolsDigest = toolsDigest
		outcome.SetTools = true
	}

	outcome.Frame = frame
	return outcome, nil
}

func digestsEqual(a, b *fingerprint.Digest) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
