// Package matching ranks a user's documents against job postings.
package matching

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
)

const (
	skillWeight      = 0.4
	keywordWeight    = 0.3
	experienceWeight = 0.2
	usageBonusCap    = 0.1
	recencyWeight    = 0.1
	recencyWindow    = 30
	industryBonus    = 0.1
	defaultBaseScore = 0.3
)

var baseScores = map[documents.DocumentType]float64{
	documents.DocumentTypeResume:               0.8,
	documents.DocumentTypePortfolio:            0.7,
	documents.DocumentTypeCoverLetter:          0.6,
	documents.DocumentTypeWritingSample:        0.5,
	documents.DocumentTypeProjectDocumentation: 0.6,
	documents.DocumentTypeReferenceLetter:      0.4,
	documents.DocumentTypeTranscript:           0.3,
	documents.DocumentTypeCertificate:          0.5,
}

var targetYears = map[jobs.ExperienceLevel]float64{
	jobs.ExperienceEntry:  2,
	jobs.ExperienceMid:    5,
	jobs.ExperienceSenior: 8,
	jobs.ExperienceLead:   12,
}

var stopwords = map[string]struct{}{
	"and": {}, "the": {}, "for": {}, "with": {}, "are": {}, "you": {},
	"will": {}, "our": {}, "this": {}, "that": {}, "from": {},
}

var (
	titleTokenPattern       = regexp.MustCompile(`\b\w+\b`)
	descriptionTokenPattern = regexp.MustCompile(`\b\w{3,}\b`)
)

// Match is the relevance of one document for one job.
type Match struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Score computes the relevance of document for job as of now. The result is clamped to [0, 1].
func Score(document documents.Document, job jobs.Job, now time.Time) Match {
	base, known := baseScores[document.DocumentType]
	if !known {
		base = defaultBaseScore
	}
	score := base
	reasons := []string{fmt.Sprintf("%s base score %.1f", strings.ReplaceAll(string(document.DocumentType), "_", " "), base)}

	if contentAnalysis, ok := document.Analysis(); ok {
		if len(job.RequiredSkills) > 0 {
			matched := overlap(contentAnalysis.Skills, job.RequiredSkills)
			score += float64(matched) / float64(len(job.RequiredSkills)) * skillWeight
			if matched > 0 {
				reasons = append(reasons, fmt.Sprintf("matches %d of %d required skills", matched, len(job.RequiredSkills)))
			}
		}
		jobKeywords := ExtractJobKeywords(job)
		if len(jobKeywords) > 0 {
			matched := overlap(contentAnalysis.Keywords, jobKeywords)
			score += float64(matched) / float64(len(jobKeywords)) * keywordWeight
			if matched > 0 {
				reasons = append(reasons, fmt.Sprintf("shares %d keywords with the posting", matched))
			}
		}
		target, ok := targetYears[job.ExperienceLevel]
		if !ok {
			target = targetYears[jobs.ExperienceMid]
		}
		alignment := math.Max(0, (5-math.Abs(contentAnalysis.ExperienceYears-target))/5) * experienceWeight
		if alignment > 0 {
			score += alignment
			reasons = append(reasons, fmt.Sprintf("%.0f years of experience fits a %.0f year target", contentAnalysis.ExperienceYears, target))
		}
	}

	if document.UsageCount > 0 {
		score += math.Min(float64(document.UsageCount)/10, usageBonusCap)
		reasons = append(reasons, fmt.Sprintf("used %d times before", document.UsageCount))
	}
	if document.LastUsed != nil {
		days := int(now.Sub(*document.LastUsed).Hours() / 24)
		if days >= 0 && days < recencyWindow {
			score += float64(recencyWindow-days) / recencyWindow * recencyWeight
			reasons = append(reasons, "used recently")
		}
	}

	industry := strings.ToLower(strings.TrimSpace(job.Industry))
	if industry != "" {
		for _, tag := range document.Tags {
			if strings.ToLower(strings.TrimSpace(tag)) == industry {
				score += industryBonus
				reasons = append(reasons, fmt.Sprintf("tagged for the %s industry", job.Industry))
				break
			}
		}
	}

	return Match{Score: clamp(score), Reason: strings.Join(reasons, "; ")}
}

// ExtractJobKeywords tokenizes the title, description, requirement values and required skills of
// job into a sorted, deduplicated, lower-case keyword list.
func ExtractJobKeywords(job jobs.Job) []string {
	seen := map[string]struct{}{}
	add := func(token string) {
		normalized := strings.ToLower(strings.TrimSpace(token))
		if len(normalized) <= 2 {
			return
		}
		if _, stop := stopwords[normalized]; stop {
			return
		}
		seen[normalized] = struct{}{}
	}

	for _, token := range titleTokenPattern.FindAllString(job.Title, -1) {
		add(token)
	}
	for _, token := range descriptionTokenPattern.FindAllString(job.Description, -1) {
		add(token)
	}
	for _, value := range job.Requirements {
		add(stringify(value))
	}
	for _, skill := range job.RequiredSkills {
		add(skill)
	}

	keywords := make([]string, 0, len(seen))
	for keyword := range seen {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	return keywords
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(typed)
	}
}

// overlap counts the distinct entries of wanted present in have, case-insensitively.
func overlap(have, wanted []string) int {
	present := make(map[string]struct{}, len(have))
	for _, item := range have {
		present[strings.ToLower(strings.TrimSpace(item))] = struct{}{}
	}
	counted := map[string]struct{}{}
	for _, item := range wanted {
		normalized := strings.ToLower(strings.TrimSpace(item))
		if _, ok := present[normalized]; !ok {
			continue
		}
		counted[normalized] = struct{}{}
	}
	return len(counted)
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(1, score))
}
