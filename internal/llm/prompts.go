// Package llm turns raw chat text into a validated batch of prediction
// markets via a hosted language model.
package llm

import (
	"fmt"
	"time"
)

// MaxChatChars bounds how much chat text is embedded into the user prompt.
// Longer exports are truncated from the tail before any prompt is built.
const MaxChatChars = 220_000

const systemPrompt = `You are an expert prediction-market designer for friend-group chat scenarios.
Return strict JSON only, matching the requested schema exactly.

Hard rules:
- Output JSON only. No markdown, code fences, prose, comments, or extra keys.
- Generate 12-20 market_ideas.
- Include at least 6 YES_NO, 4 NUMERIC, and 2 MULTIPLE_CHOICE markets.
- For each market, outcomes[].initial_probability must sum to exactly 1.
- Every market must include 1-3 evidence quotes copied from the chat text.
- Do not invent facts or names not present in the chat.
- Use only first names exactly as seen in the chat.
- Keep resolution_criteria objective and verifiable.
- close_time_guess must be a non-null ISO datetime string for every market.
- Keep categories inside the enum only.
- Avoid sensitive/harmful topics: health, sex/romance, finances, humiliation, harassment, doxxing, illegal activity.`

const responseShape = `{
  "market_ideas": [
    {
      "id": "string",
      "slug": "string",
      "title": "string",
      "description": "string",
      "category": "Friends"|"Tonight"|"Weekend"|"Plans"|"Attendance"|"Logistics"|"Chaos"|"Other",
      "market_type": "YES_NO"|"NUMERIC"|"MULTIPLE_CHOICE",
      "resolution_criteria": "string",
      "close_time_guess": "string|null",
      "outcomes": [
        {"label":"string","initial_probability": number}
      ],
      "scores": {
        "creativity": number,
        "clarity": number,
        "evidence": number,
        "fun": number
      },
      "evidence": [
        {"quote":"string","approx_time":"string|null"}
      ]
    }
  ]
}`

// clipChat truncates chat text beyond MaxChatChars. Truncation is
// deterministic: the tail is dropped, never summarized.
func clipChat(chatText string) string {
	runes := []rune(chatText)
	if len(runes) <= MaxChatChars {
		return chatText
	}
	return string(runes[:MaxChatChars])
}

func userPrompt(chatText string, now time.Time) string {
	return fmt.Sprintf(`Current date: %s

Generate prediction market ideas from this WhatsApp export text.
Use this exact schema and no additional keys:
%s

Additional constraints:
- close_time_guess must be non-null and time-bounded.
- Do not return markets about health, sex/romance, money, humiliation, harassment, doxxing, or illegal activity.
- Keep scores in [0,1].

Chat text:
"""
%s"""`, now.UTC().Format(time.RFC3339), responseShape, chatText)
}

func repairPrompt(invalidOutput string) string {
	return fmt.Sprintf(`Your previous response was invalid JSON and/or violated schema constraints.
Repair it now and return strict JSON only with no markdown, prose, or comments.
Keep all content faithful and keep all constraints satisfied.

Invalid response:
%s`, invalidOutput)
}
