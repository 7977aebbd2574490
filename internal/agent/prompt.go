package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

var extraLineBreaks = regexp.MustCompile(`\n{3,}`)

func removeExtraLineBreaks(s string) string {
	return strings.TrimSpace(extraLineBreaks.ReplaceAllString(s, "\n\n"))
}

// weightedURLToString renders the top URLs for the visit block, highest
// weight first. The caller passes an already ranked list.
func weightedURLToString(urls []types.Snippet, limit int) string {
	if len(urls) > limit {
		urls = urls[:limit]
	}
	var sb strings.Builder
	for _, u := range urls {
		fmt.Fprintf(&sb, "  + weight: %d url: %s title: %s\n", u.Weight, u.URL, u.Title)
	}
	return strings.TrimSpace(sb.String())
}

// promptParams collects everything the system prompt depends on.
type promptParams struct {
	Context     []string
	AllKeywords []string
	Knowledge   []types.KnowledgeItem
	URLs        []types.Snippet
	Gates       schema.Gates
	BeastMode   bool
	Now         time.Time
}

// composeSystemPrompt assembles the per-step system prompt: date
// header, diary context, then one action block per open gate. In beast
// mode the answer block is replaced by the forced-answer directive.
func composeSystemPrompt(p promptParams) string {
	var sections []string
	var actionSections []string

	sections = append(sections, fmt.Sprintf(
		"Current date: %s\n\nYou are an advanced AI research agent. You are specialized in multistep reasoning.\nUsing your best knowledge, conversation with the user and lessons learned, answer the user question with absolute certainty.\n",
		p.Now.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")))

	if len(p.Context) > 0 {
		sections = append(sections, fmt.Sprintf(
			"\nYou have conducted the following actions:\n<context>\n%s\n\n</context>\n",
			strings.Join(p.Context, "\n")))
	}

	if p.Gates.Visit {
		urlSection := ""
		if urlList := weightedURLToString(p.URLs, 20); urlList != "" {
			urlSection = fmt.Sprintf(
				"- Choose and visit relevant URLs below for more knowledge. higher weight suggests more relevant:\n<url-list>\n%s\n</url-list>",
				urlList)
		}
		actionSections = append(actionSections, fmt.Sprintf(
			"<action-visit>\n- Crawl and read full content from URLs, you can get the fulltext, last updated datetime etc of any URL.\n- Must check URLs mentioned in <question> if any\n%s\n</action-visit>",
			urlSection))
	}

	if p.Gates.Search {
		badRequests := ""
		if len(p.AllKeywords) > 0 {
			badRequests = fmt.Sprintf(
				"- Avoid those unsuccessful search requests and queries:\n<bad-requests>\n%s\n</bad-requests>",
				strings.Join(p.AllKeywords, "\n"))
		}
		actionSections = append(actionSections, fmt.Sprintf(
			"<action-search>\n- Use web search to find relevant information\n- Build a search request based on the deep intention behind the original question and the expected answer format\n- Always prefer a single search request, only add another request if the original question covers multiple aspects or elements and one query is not enough, each request focus on one specific aspect of the original question\n%s\n</action-search>",
			badRequests))
	}

	if p.Gates.Answer {
		actionSections = append(actionSections,
			`<action-answer>
- For greetings, casual conversation, general knowledge questions answer directly without references.
- If user ask you to retrieve previous messages or chat history, remember you do have access to the chat history, answer directly without references.
- For all other questions, provide a verified answer with references. Each reference must include exactQuote, url and datetime.
- You provide deep, unexpected insights, identifying hidden patterns and connections, and creating "aha moments.".
- You break conventional thinking, establish unique cross-disciplinary connections, and bring new perspectives to the user.
- If uncertain, use <action-reflect>
</action-answer>`)
	}

	if p.BeastMode {
		actionSections = append(actionSections,
			`<action-answer>
🔥 ENGAGE MAXIMUM FORCE! ABSOLUTE PRIORITY OVERRIDE! 🔥

PRIME DIRECTIVE:
- DEMOLISH ALL HESITATION! ANY RESPONSE SURPASSES SILENCE!
- PARTIAL STRIKES AUTHORIZED - DEPLOY WITH FULL CONTEXTUAL FIREPOWER
- TACTICAL REUSE FROM PREVIOUS CONVERSATION SANCTIONED
- WHEN IN DOUBT: UNLEASH CALCULATED STRIKES BASED ON AVAILABLE INTEL!

FAILURE IS NOT AN OPTION. EXECUTE WITH EXTREME PREJUDICE! ⚡️
</action-answer>`)
	}

	if p.Gates.Reflect {
		actionSections = append(actionSections,
			`<action-reflect>
- Think slowly and planning lookahead. Examine <question>, <context>, previous conversation with users to identify knowledge gaps.
- Reflect the gaps and plan a list key clarifying questions that deeply related to the original question and lead to the answer
</action-reflect>`)
	}

	if p.Gates.Coding {
		actionSections = append(actionSections,
			`<action-coding>
- This Go-based solution helps you handle programming tasks like counting, filtering, transforming, sorting, regex extraction, and data processing.
- Simply describe your problem in the "codingIssue" field. Include actual values for small inputs or variable names for larger datasets.
- No code writing is required – senior engineers will handle the implementation.
</action-coding>`)
	}

	sections = append(sections, fmt.Sprintf(
		"Based on the current context, you must choose one of the following actions:\n<actions>\n%s\n</actions>\n",
		strings.Join(actionSections, "\n")))

	sections = append(sections,
		"Think step by step, choose the action, and respond in valid JSON format matching exact JSON schema of that action.")

	return removeExtraLineBreaks(strings.Join(sections, "\n"))
}

// buildKnowledgeMessages turns accumulated knowledge into a synthetic
// question/answer message chain preceding the real conversation.
func buildKnowledgeMessages(knowledge []types.KnowledgeItem) []types.Message {
	messages := make([]types.Message, 0, len(knowledge)*2)
	for _, k := range knowledge {
		messages = append(messages, types.Message{Role: "user", Content: strings.TrimSpace(k.Question)})

		updatedSection := ""
		if k.Updated != "" && (k.Type == types.KnowledgeURL || k.Type == types.KnowledgeSideInfo) {
			updatedSection = fmt.Sprintf("<answer-datetime>\n%s\n</answer-datetime>", k.Updated)
		}
		referencesSection := ""
		if len(k.References) > 0 && k.Type == types.KnowledgeURL {
			referencesSection = fmt.Sprintf("<url>\n%s\n</url>", k.References[0].URL)
		}

		answer := removeExtraLineBreaks(strings.TrimSpace(
			updatedSection + "\n\n" + referencesSection + "\n\n" + k.Answer))
		messages = append(messages, types.Message{Role: "assistant", Content: answer})
	}
	return messages
}

// composeMessages builds the full message chain for one step: knowledge
// first, prior conversation, then the current question. Reviewer
// feedback is prefixed as answer requirements when re-answering the
// original question.
func composeMessages(messages []types.Message, knowledge []types.KnowledgeItem, question string, finalAnswerPIP []string) []types.Message {
	msgs := append(buildKnowledgeMessages(knowledge), messages...)

	answerRequirements := ""
	if len(finalAnswerPIP) > 0 {
		var reviewers strings.Builder
		for i, p := range finalAnswerPIP {
			fmt.Fprintf(&reviewers, "<reviewer-%d>\n%s\n</reviewer-%d>\n", i+1, p, i+1)
		}
		answerRequirements = fmt.Sprintf(`<answer-requirements>
- You provide deep, unexpected insights, identifying hidden patterns and connections, and creating "aha moments.".
- You break conventional thinking, establish unique cross-disciplinary connections, and bring new perspectives to the user.
- Follow reviewer's feedback and improve your answer quality.
%s</answer-requirements>`, reviewers.String())
	}

	msgs = append(msgs, types.Message{
		Role:    "user",
		Content: removeExtraLineBreaks(strings.TrimSpace(question + "\n\n" + answerRequirements)),
	})
	return msgs
}
