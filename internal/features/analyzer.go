package features

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Complexity thresholds on the integer complexity score
const (
	HighComplexityScore   = 4
	MediumComplexityScore = 2

	longPromptTokens   = 600
	mediumPromptTokens = 200
)

// domainKeywords are matched as whole words or phrases against the lowercased prompt
var domainKeywords = map[types.Domain][]string{
	types.DomainCoding: {
		"code", "function", "bug", "debug", "compile", "algorithm", "api", "class",
		"refactor", "python", "golang", "javascript", "typescript", "sql", "regex",
		"implement", "script", "stack trace", "unit test", "endpoint",
	},
	types.DomainCreative: {
		"story", "poem", "creative", "fiction", "character", "plot", "lyrics",
		"narrative", "imagine", "metaphor", "novel", "slogan", "brainstorm", "song",
	},
	types.DomainResearch: {
		"research", "paper", "study", "sources", "literature", "cite", "citation",
		"evidence", "history of", "survey", "findings", "references",
	},
	types.DomainAnalysis: {
		"analyze", "analyse", "analysis", "data", "statistics", "trend", "evaluate",
		"metrics", "dataset", "correlation", "forecast", "breakdown", "insights", "assess",
	},
}

var multiStepPhrases = []string{
	"step by step", "first", "then", "after that", "finally", "multiple",
	"end-to-end", "and also", "followed by", "in stages",
}

var technicalTerms = []string{
	"architecture", "concurrency", "distributed", "latency", "database", "kubernetes",
	"microservice", "optimization", "scalability", "protocol", "encryption",
	"transaction", "asynchronous", "throughput", "schema", "cache",
}

// domainPriority breaks keyword-vote ties
var domainPriority = []types.Domain{
	types.DomainCoding,
	types.DomainResearch,
	types.DomainAnalysis,
	types.DomainCreative,
}

// Analyzer extracts keyword features and a complexity class from prompts
type Analyzer struct {
	codec     tokenizer.Codec
	keywords  map[types.Domain][]*term
	multiStep []*term
	technical []*term
	logger    *logrus.Logger
}

type term struct {
	text    string
	pattern *regexp.Regexp
}

// NewAnalyzer creates an analyzer with the built-in pattern tables
func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	a := &Analyzer{
		keywords:  make(map[types.Domain][]*term, len(domainKeywords)),
		multiStep: compileTerms(multiStepPhrases),
		technical: compileTerms(technicalTerms),
		logger:    logger,
	}
	for domain, words := range domainKeywords {
		a.keywords[domain] = compileTerms(words)
	}

	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.WithError(err).Warn("Tokenizer unavailable, falling back to word-based token estimate")
	} else {
		a.codec = codec
	}
	return a
}

func compileTerms(words []string) []*term {
	terms := make([]*term, 0, len(words))
	for _, w := range words {
		terms = append(terms, &term{
			text:    w,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`),
		})
	}
	return terms
}

// Analyze extracts features from a prompt
func (a *Analyzer) Analyze(prompt string) types.Features {
	lower := strings.ToLower(prompt)

	f := types.Features{
		Keywords:   make(map[types.Domain][]string),
		TokenCount: a.countTokens(prompt),
	}

	for domain, terms := range a.keywords {
		for _, t := range terms {
			if t.pattern.MatchString(lower) {
				f.Keywords[domain] = append(f.Keywords[domain], t.text)
			}
		}
	}
	f.IsCode = len(f.Keywords[types.DomainCoding]) > 0
	f.IsCreative = len(f.Keywords[types.DomainCreative]) > 0
	f.IsResearch = len(f.Keywords[types.DomainResearch]) > 0
	f.IsAnalysis = len(f.Keywords[types.DomainAnalysis]) > 0

	multiStepHits := countMatches(a.multiStep, lower)
	f.MultiStep = multiStepHits > 0
	f.TechnicalTerms = countMatches(a.technical, lower)

	f.ComplexityScore = complexityScore(f.TokenCount, multiStepHits, f.TechnicalTerms, len(f.Keywords))
	f.Complexity = ClassifyComplexity(f.ComplexityScore)
	return f
}

func countMatches(terms []*term, text string) int {
	hits := 0
	for _, t := range terms {
		if t.pattern.MatchString(text) {
			hits++
		}
	}
	return hits
}

func (a *Analyzer) countTokens(prompt string) int {
	if a.codec != nil {
		ids, _, err := a.codec.Encode(prompt)
		if err == nil {
			return len(ids)
		}
		a.logger.WithError(err).Debug("Tokenizer encode failed, estimating")
	}
	return len(strings.Fields(prompt)) * 4 / 3
}

// complexityScore adds points for length, multi-step phrasing, technical
// density and cross-domain prompts
func complexityScore(tokens, multiStepHits, technical, domains int) int {
	score := 0
	switch {
	case tokens > longPromptTokens:
		score += 2
	case tokens > mediumPromptTokens:
		score++
	}
	switch {
	case multiStepHits >= 2:
		score += 2
	case multiStepHits == 1:
		score++
	}
	switch {
	case technical >= 3:
		score += 2
	case technical >= 1:
		score++
	}
	if domains >= 2 {
		score++
	}
	return score
}

// ClassifyComplexity maps an integer score onto a complexity class
func ClassifyComplexity(score int) types.Complexity {
	switch {
	case score >= HighComplexityScore:
		return types.ComplexityHigh
	case score >= MediumComplexityScore:
		return types.ComplexityMedium
	default:
		return types.ComplexityLow
	}
}

// DomainScores returns the keyword vote per domain
func DomainScores(f types.Features) map[types.Domain]int {
	scores := make(map[types.Domain]int, len(f.Keywords))
	for domain, words := range f.Keywords {
		scores[domain] = len(words)
	}
	return scores
}

// PrimaryDomain picks the domain with the most keyword hits, or general
func PrimaryDomain(f types.Features) types.Domain {
	scores := DomainScores(f)
	best := types.DomainGeneral
	bestScore := 0
	for _, d := range domainPriority {
		if scores[d] > bestScore {
			best = d
			bestScore = scores[d]
		}
	}
	return best
}

// Keywords returns the sorted matched keywords across all domains
func Keywords(f types.Features) []string {
	var out []string
	for _, words := range f.Keywords {
		out = append(out, words...)
	}
	sort.Strings(out)
	return out
}
