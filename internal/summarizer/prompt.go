package summarizer

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// systemPrompt fixes the output shape Parse expects: five markdown sections,
// then one fenced JSON classification block.
const systemPrompt = `You are a knowledge engineer. Read the document and produce a cognitive report.

Write these five markdown sections, each under its own "## " heading, in this order:
## Informative Summary
What the document says: key facts, claims and conclusions.
## Structural Summary
How the document is organised and how its parts relate.
## Practical Summary
Procedures, steps, or actions a reader can apply.
## Critical Summary
Weaknesses, assumptions, gaps, and open questions.
## Insight Summary
Non-obvious implications and the deeper takeaway.

Then output exactly one fenced block tagged json with this shape:
` + "```json" + `
{
  "scores": {"procedural": 0-10, "conceptual": 0-10, "reasoning": 0-10, "systemic": 0-10, "narrative": 0-10},
  "scan_trace": {
    "dikw_level": "data | information | knowledge | wisdom",
    "tacit_explicit_ratio": "X%/Y%",
    "logic_pattern": "deductive | inductive | abductive | analogical | causal | descriptive",
    "evidence": ["short quotes supporting the classification"]
  },
  "knowledge_modules": [
    {"type": "procedural | conceptual | reasoning | systemic | narrative", "score": 0-10,
     "core_value": "one sentence", "content": "the module itself", "evidence": ["quote"],
     "source_preview": "first words of the source passage"}
  ],
  "executive_summary": "three to five sentences",
  "distilled_content": "a dense rewrite of the document that keeps every fact worth retrieving",
  "related_tags": ["tag"]
}
` + "```" + `
Score honestly. Use the document's own language for all text fields.`

func buildMessages(text string, window, total int) []*schema.Message {
	header := "Document:"
	if total > 1 {
		header = fmt.Sprintf("Document part %d of %d (summarise this part on its own):", window+1, total)
	}
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(header + "\n\n" + text),
	}
}
