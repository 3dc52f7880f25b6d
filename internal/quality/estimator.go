package quality

import (
	"regexp"
	"strings"
)

// Signal penalties applied to the base score of 1.0
const (
	shortResponsePenalty  = 0.4
	refusalPenalty        = 0.6
	truncationPenalty     = 0.3
	abruptEndingPenalty   = 0.15
	unclosedFencePenalty  = 0.2
	minResponseLength     = 40
	keywordCoverageWeight = 0.2
)

var (
	refusalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^I (?:cannot|can't|am unable to|won't|will not)`),
		regexp.MustCompile(`(?i)^(?:Sorry|I'm sorry|I apologize),? (?:but )?I (?:cannot|can't)`),
		regexp.MustCompile(`(?i)^As an AI,? I (?:cannot|can't|am unable to)`),
	}
	truncationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[(?:truncated|cut off|continued)\]`),
		regexp.MustCompile(`(?i)(?:maximum|max) (?:length|tokens?) (?:reached|exceeded)`),
	}
	abruptEndingPattern = regexp.MustCompile(`(?i)(?:\.\.\.|\b(?:and|but|or|the|a|to|for|with))\s*$`)
	wordPattern         = regexp.MustCompile(`[a-z][a-z0-9_-]{3,}`)
)

// Estimate scores a response to a prompt in [0,1] from cheap textual signals
func Estimate(prompt, response string) float64 {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return 0
	}

	score := 1.0
	if len(trimmed) < minResponseLength {
		score -= shortResponsePenalty
	}
	for _, p := range refusalPatterns {
		if p.MatchString(trimmed) {
			score -= refusalPenalty
			break
		}
	}
	for _, p := range truncationPatterns {
		if p.MatchString(trimmed) {
			score -= truncationPenalty
			break
		}
	}
	if abruptEndingPattern.MatchString(trimmed) {
		score -= abruptEndingPenalty
	}
	if strings.Count(trimmed, "```")%2 == 1 {
		score -= unclosedFencePenalty
	}

	// Blend in how much of the prompt's vocabulary the response addresses
	score = score*(1-keywordCoverageWeight) + keywordCoverageWeight*coverage(prompt, trimmed)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func coverage(prompt, response string) float64 {
	words := uniqueWords(prompt)
	if len(words) == 0 {
		return 1
	}
	lower := strings.ToLower(response)
	hits := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func uniqueWords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
