package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

var promptNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComposeSystemPromptSectionsFollowGates(t *testing.T) {
	prompt := composeSystemPrompt(promptParams{
		Gates: schema.Gates{Search: true, Answer: true},
		Now:   promptNow,
	})
	assert.Contains(t, prompt, "Current date: Sat, 01 Mar 2025")
	assert.Contains(t, prompt, "<action-search>")
	assert.Contains(t, prompt, "<action-answer>")
	assert.NotContains(t, prompt, "<action-visit>")
	assert.NotContains(t, prompt, "<action-reflect>")
	assert.NotContains(t, prompt, "<action-coding>")
	assert.NotContains(t, prompt, "MAXIMUM FORCE")
}

func TestComposeSystemPromptBeastMode(t *testing.T) {
	prompt := composeSystemPrompt(promptParams{
		Gates:     schema.Gates{},
		BeastMode: true,
		Now:       promptNow,
	})
	assert.Contains(t, prompt, "MAXIMUM FORCE")
	assert.NotContains(t, prompt, "<action-search>")
}

func TestComposeSystemPromptIncludesDiaryAndBadRequests(t *testing.T) {
	prompt := composeSystemPrompt(promptParams{
		Context:     []string{"At step 1, you took the **search** action."},
		AllKeywords: []string{"go gc pacing"},
		Gates:       schema.Gates{Search: true},
		Now:         promptNow,
	})
	assert.Contains(t, prompt, "<context>")
	assert.Contains(t, prompt, "At step 1, you took the **search** action.")
	assert.Contains(t, prompt, "<bad-requests>")
	assert.Contains(t, prompt, "go gc pacing")
}

func TestComposeSystemPromptRanksURLList(t *testing.T) {
	prompt := composeSystemPrompt(promptParams{
		Gates: schema.Gates{Visit: true},
		URLs: []types.Snippet{
			{URL: "https://a.com/x", Title: "A", Weight: 3},
			{URL: "https://b.com/y", Title: "B", Weight: 1},
		},
		Now: promptNow,
	})
	assert.Contains(t, prompt, "<url-list>")
	assert.Contains(t, prompt, "weight: 3 url: https://a.com/x title: A")
}

func TestBuildKnowledgeMessagesShapes(t *testing.T) {
	msgs := buildKnowledgeMessages([]types.KnowledgeItem{
		{
			Question:   "What is in https://a.com/x?",
			Answer:     "page text",
			Type:       types.KnowledgeURL,
			References: []types.Reference{{URL: "https://a.com/x"}},
			Updated:    "2025-01-02",
		},
		{Question: "sub question", Answer: "sub answer", Type: types.KnowledgeQA},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "<answer-datetime>\n2025-01-02")
	assert.Contains(t, msgs[1].Content, "<url>\nhttps://a.com/x")
	assert.Contains(t, msgs[1].Content, "page text")
	assert.Equal(t, "sub answer", msgs[3].Content)
}

func TestComposeMessagesAppendsReviewerFeedback(t *testing.T) {
	msgs := composeMessages(
		[]types.Message{{Role: "user", Content: "prior"}},
		nil,
		"the question",
		[]string{"For the best answer, you must add data."},
	)
	last := msgs[len(msgs)-1].Content
	assert.True(t, strings.HasPrefix(last, "the question"))
	assert.Contains(t, last, "<answer-requirements>")
	assert.Contains(t, last, "<reviewer-1>")
	assert.Contains(t, last, "add data")
}

func TestRemoveExtraLineBreaks(t *testing.T) {
	assert.Equal(t, "a\n\nb", removeExtraLineBreaks("a\n\n\n\n\nb"))
}
