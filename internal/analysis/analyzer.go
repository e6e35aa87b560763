// Package analysis extracts skills, keywords and experience hints from document text.
package analysis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const maxKeywords = 25

// ErrUnsupportedContent indicates that no text could be extracted from the payload.
var ErrUnsupportedContent = errors.New("analysis: unsupported content")

// ContentAnalysis is the JSON document stored alongside each document.
type ContentAnalysis struct {
	Skills          []string `json:"skills"`
	Keywords        []string `json:"keywords"`
	ExperienceYears float64  `json:"experience_years"`
	WordCount       int      `json:"word_count"`
}

var (
	experiencePattern = regexp.MustCompile(`(?i)(\d{1,2})\s*\+?\s*(?:years?|yrs?)`)

	// skillVocabulary maps lower-case tokens to their display form.
	skillVocabulary = map[string]string{
		"python": "Python", "django": "Django", "flask": "Flask", "fastapi": "FastAPI",
		"go": "Go", "golang": "Go", "java": "Java", "kotlin": "Kotlin", "scala": "Scala",
		"javascript": "JavaScript", "typescript": "TypeScript", "react": "React", "vue": "Vue",
		"angular": "Angular", "node.js": "Node.js", "nodejs": "Node.js", "rust": "Rust",
		"c++": "C++", "c#": "C#", "ruby": "Ruby", "rails": "Rails", "php": "PHP", "swift": "Swift",
		"sql": "SQL", "postgresql": "PostgreSQL", "postgres": "PostgreSQL", "mysql": "MySQL",
		"mongodb": "MongoDB", "redis": "Redis", "kafka": "Kafka", "rabbitmq": "RabbitMQ",
		"aws": "AWS", "gcp": "GCP", "azure": "Azure", "docker": "Docker", "kubernetes": "Kubernetes",
		"terraform": "Terraform", "linux": "Linux", "git": "Git", "graphql": "GraphQL",
		"machine learning": "Machine Learning", "pandas": "Pandas", "tensorflow": "TensorFlow",
		"pytorch": "PyTorch", "spark": "Spark", "excel": "Excel", "figma": "Figma",
		"agile": "Agile", "scrum": "Scrum", "leadership": "Leadership",
	}

	analysisStopWords = map[string]bool{
		"and": true, "the": true, "for": true, "with": true, "are": true, "you": true,
		"will": true, "our": true, "this": true, "that": true, "from": true, "have": true,
		"was": true, "were": true, "has": true, "but": true, "not": true, "all": true,
		"your": true, "their": true, "they": true, "into": true, "also": true, "can": true,
	}
)

// Analyzer turns document payloads into ContentAnalysis values.
type Analyzer struct{}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze extracts text according to the MIME type and summarizes it.
func (a *Analyzer) Analyze(mimeType string, content []byte) (ContentAnalysis, error) {
	text, err := ExtractText(mimeType, content)
	if err != nil {
		return ContentAnalysis{}, err
	}
	return AnalyzeText(text), nil
}

// ExtractText returns the plain text of PDF or text-like payloads.
func ExtractText(mimeType string, content []byte) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case normalized == "application/pdf":
		return extractPDF(content)
	case strings.HasPrefix(normalized, "text/"),
		normalized == "application/json",
		normalized == "application/xml",
		normalized == "application/rtf":
		return string(content), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mimeType)
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return string(text), nil
}

// AnalyzeText summarizes already extracted text.
func AnalyzeText(text string) ContentAnalysis {
	tokens := tokenize(text)
	return ContentAnalysis{
		Skills:          detectSkills(text, tokens),
		Keywords:        topKeywords(tokens, maxKeywords),
		ExperienceYears: detectExperienceYears(text),
		WordCount:       len(strings.Fields(text)),
	}
}

func tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		w := strings.TrimRight(word.String(), ".")
		word.Reset()
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func detectSkills(text string, tokens []string) []string {
	found := make(map[string]bool)
	for _, token := range tokens {
		if skill, ok := skillVocabulary[token]; ok {
			found[skill] = true
		}
	}
	lowered := strings.ToLower(text)
	for term, skill := range skillVocabulary {
		if strings.Contains(term, " ") && strings.Contains(lowered, term) {
			found[skill] = true
		}
	}
	skills := make([]string, 0, len(found))
	for skill := range found {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	return skills
}

func topKeywords(tokens []string, limit int) []string {
	counts := make(map[string]int)
	for _, token := range tokens {
		if len([]rune(token)) < 3 || analysisStopWords[token] {
			continue
		}
		if _, err := strconv.Atoi(token); err == nil {
			continue
		}
		counts[token]++
	}
	keywords := make([]string, 0, len(counts))
	for keyword := range counts {
		keywords = append(keywords, keyword)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

// detectExperienceYears returns the largest "N years" figure mentioned in the text.
func detectExperienceYears(text string) float64 {
	var best float64
	for _, match := range experiencePattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if float64(value) > best {
			best = float64(value)
		}
	}
	return best
}
