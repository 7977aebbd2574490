package agent

import (
	"fmt"
	"strings"

	"deepresearch/internal/types"
)

// buildMdAnswer renders the final answer with footnote-style citations.
// Footnote definitions follow the references array order; when the
// model forgot to place any [^k] markers in the text, markers for all
// references are appended after the answer body.
func buildMdAnswer(step types.StepAction) string {
	answer := strings.TrimSpace(step.Answer)
	if answer == "" || len(step.References) == 0 {
		return answer
	}

	if !strings.Contains(answer, "[^") {
		var markers strings.Builder
		for i := range step.References {
			fmt.Fprintf(&markers, "[^%d]", i+1)
		}
		answer += markers.String()
	}

	var sb strings.Builder
	sb.WriteString(answer)
	sb.WriteString("\n\n")
	for i, ref := range step.References {
		label := ref.Title
		if label == "" {
			label = ref.URL
		}
		line := fmt.Sprintf("[^%d]: %s [%s](%s)", i+1, strings.TrimSpace(ref.ExactQuote), label, ref.URL)
		if ref.DateTime != "" {
			line += " (" + ref.DateTime + ")"
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return fixCodeBlockIndentation(strings.TrimSpace(sb.String()))
}

// fixCodeBlockIndentation dedents fenced code blocks whose fences were
// emitted with leading whitespace, which would otherwise render as
// literal text.
func fixCodeBlockIndentation(md string) string {
	lines := strings.Split(md, "\n")
	inBlock := false
	indent := ""
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			if !inBlock {
				indent = line[:len(line)-len(trimmed)]
			}
			inBlock = !inBlock
			lines[i] = trimmed
			continue
		}
		if inBlock && indent != "" {
			lines[i] = strings.TrimPrefix(line, indent)
		}
	}
	return strings.Join(lines, "\n")
}
