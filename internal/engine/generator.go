package engine

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/nulpointcorp/llm-simulator/internal/config"
)

// Message is the provider-neutral chat message the engine operates on.
// Provider handlers convert their wire formats to and from this shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces synthetic response text, embeddings, and token streams.
// Safe for concurrent use; a fixed seed reproduces the exact same output
// sequence.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	templates []string
}

// NewGenerator returns a generator seeded from seed. A nil seed uses entropy.
func NewGenerator(seed *uint64) *Generator {
	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(*seed, *seed^0xda3e39cb94b95bdb)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{
		rng:       rand.New(src),
		templates: defaultTemplates(),
	}
}

// Generate produces response text for messages, bounded by maxTokens and the
// generation config. Returns the text and its estimated token count.
func (g *Generator) Generate(messages []Message, maxTokens int, cfg config.GenerationConfig) (string, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	upper := cfg.MaxTokens
	if maxTokens > 0 && maxTokens < upper {
		upper = maxTokens
	}
	target := cfg.MinTokens
	if upper > cfg.MinTokens {
		target = cfg.MinTokens + g.rng.IntN(upper-cfg.MinTokens+1)
	}

	var content string
	switch cfg.Strategy {
	case config.StrategyLorem:
		content = g.lorem(target)
	case config.StrategyEcho:
		content = g.echo(messages, target)
	case config.StrategyFixed:
		if len(cfg.Templates) > 0 {
			content = cfg.Templates[0]
		} else {
			content = "This is a simulated response."
		}
	case config.StrategyRandom:
		content = g.randomText(target)
	default: // template
		content = g.fromTemplates(messages, target, cfg)
	}

	return content, EstimateTokens(content)
}

// GenerateEmbedding produces a deterministic unit vector for input. The same
// input always maps to the same vector regardless of the generator's seed.
func (g *Generator) GenerateEmbedding(dimensions int, input string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(input))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
	embedding := make([]float32, dimensions)
	var sumSq float64
	for i := range embedding {
		v := rng.Float64()*2 - 1
		embedding[i] = float32(v)
		sumSq += v * v
	}

	if mag := float32(math.Sqrt(sumSq)); mag > 0 {
		for i := range embedding {
			embedding[i] /= mag
		}
	}
	return embedding
}

// Tokenize splits text into stream chunks: at whitespace, ASCII punctuation,
// or every 4 characters, whichever comes first. Separators stay attached to
// the preceding token so concatenating the tokens reproduces the text.
func (g *Generator) Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	for _, c := range text {
		current.WriteRune(c)
		if isSplitRune(c) || current.Len() >= 4 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isSplitRune(c rune) bool {
	if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
		return true
	}
	// ASCII punctuation ranges.
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') ||
		(c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}

// EstimateTokens approximates the token count of text at ~4 chars per token,
// never less than 1.
func EstimateTokens(text string) int {
	n := int(math.Ceil(float64(len(text)) / 4.0))
	if n < 1 {
		return 1
	}
	return n
}

func (g *Generator) fromTemplates(messages []Message, targetTokens int, cfg config.GenerationConfig) string {
	templates := cfg.Templates
	if len(templates) == 0 {
		templates = g.templates
	}

	var b strings.Builder
	b.WriteString(templates[g.rng.IntN(len(templates))])

	targetChars := targetTokens * 4
	for b.Len() < targetChars {
		b.WriteString("\n\n")
		b.WriteString(g.paragraph(messages))
	}

	response := b.String()
	if len(response) > targetChars {
		response = response[:targetChars]
		if i := strings.LastIndexByte(response, ' '); i >= 0 {
			response = response[:i]
		}
	}
	return response
}

// paragraph picks a filler paragraph keyed to the last user message.
func (g *Generator) paragraph(messages []Message) string {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	lower := strings.ToLower(last)

	var pool []string
	switch {
	case strings.Contains(last, "?"):
		pool = questionResponses
	case strings.Contains(lower, "code"), strings.Contains(lower, "program"):
		pool = codeResponses
	case strings.Contains(lower, "explain"):
		pool = explanationResponses
	default:
		pool = generalResponses
	}
	return pool[g.rng.IntN(len(pool))]
}

func (g *Generator) echo(messages []Message, targetTokens int) string {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	response := fmt.Sprintf(
		"I understand you're asking about: %q\n\nHere's my response to that:", last)

	targetChars := targetTokens * 4
	if len(response) < targetChars {
		padding := g.lorem((targetChars - len(response)) / 4)
		return response + "\n\n" + padding
	}
	return response
}

func (g *Generator) lorem(targetTokens int) string {
	words := make([]string, 0, targetTokens)
	for i := 0; i < targetTokens; i++ {
		words = append(words, loremWords[g.rng.IntN(len(loremWords))])
	}
	text := []byte(strings.Join(words, " "))
	if len(text) == 0 {
		return ""
	}
	if text[0] >= 'a' && text[0] <= 'z' {
		text[0] -= 'a' - 'A'
	}

	// Turn every twelfth word boundary into a sentence break.
	wordCount := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			wordCount++
			if wordCount%12 == 0 && i+1 < len(text) {
				text[i-1] = '.'
				if text[i+1] >= 'a' && text[i+1] <= 'z' {
					text[i+1] -= 'a' - 'A'
				}
			}
		}
	}
	return string(text)
}

func (g *Generator) randomText(targetTokens int) string {
	words := make([]string, 0, targetTokens)
	for i := 0; i < targetTokens; i++ {
		words = append(words, randomVocab[g.rng.IntN(len(randomVocab))])
	}
	return strings.Join(words, " ")
}

func defaultTemplates() []string {
	return []string{
		"I'd be happy to help you with that. Let me provide a detailed response.",
		"Based on your request, here's what I can tell you.",
		"That's a great question. Let me explain.",
		"I understand what you're looking for. Here's my analysis.",
		"Let me address your query comprehensively.",
	}
}

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "aliquip", "ex", "ea", "commodo",
	"consequat", "duis", "aute", "irure", "in", "reprehenderit", "voluptate",
	"velit", "esse", "cillum", "fugiat", "nulla", "pariatur", "excepteur", "sint",
	"occaecat", "cupidatat", "non", "proident", "sunt", "culpa", "qui", "officia",
	"deserunt", "mollit", "anim", "id", "est", "laborum",
}

var randomVocab = []string{
	"the", "a", "is", "are", "was", "were", "have", "has", "had", "do", "does",
	"did", "will", "would", "could", "should", "may", "might", "must", "can",
	"this", "that", "these", "those", "it", "they", "we", "you", "he", "she",
	"system", "data", "model", "process", "function", "result", "value", "type",
	"input", "output", "request", "response", "error", "success", "status",
	"configuration", "parameter", "option", "setting", "property", "attribute",
}

var questionResponses = []string{
	"To answer your question directly, the key consideration here is understanding the underlying principles involved.",
	"The answer depends on several factors that we should examine carefully.",
	"There are multiple perspectives to consider when addressing this question.",
	"Let me break down the answer into manageable parts for clarity.",
}

var codeResponses = []string{
	"Here's an implementation approach that follows best practices and maintains code clarity.",
	"The solution involves several components working together efficiently.",
	"This code pattern is commonly used in production systems for its reliability.",
	"Consider this implementation which balances performance with maintainability.",
}

var explanationResponses = []string{
	"To understand this concept, we need to start with the fundamentals.",
	"This works by combining several mechanisms that interact in specific ways.",
	"The underlying principle is based on well-established patterns in the field.",
	"Let me walk you through the key components and how they relate to each other.",
}

var generalResponses = []string{
	"This is an important topic that deserves careful consideration.",
	"There are several aspects to explore in this area.",
	"The approach I recommend takes into account multiple factors.",
	"Based on the available information, here's what we can determine.",
}
