package classify

import (
	"math"
	"net/url"
	"strings"

	"policycrawl/pkg/models"
	"policycrawl/pkg/utils"
)

// Input carries everything known about a downloaded document at
// classification time. TextSample is optional; classification degrades
// gracefully without it.
type Input struct {
	URL        string
	Filename   string
	PolicyType string // requested category, used as fallback
	FileSize   int64
	TextSample string
}

// Result is the triage verdict for one document
type Result struct {
	DocumentType   string
	PolicyType     string
	Confidence     float64
	Status         models.DocumentStatus
	Insurer        string // empty when the domain matches no known insurer
	MatchedKeyword string
	Warnings       []string
}

// Classifier scores documents against the keyword rule tables. Threshold is
// the confidence at or above which a document is validated without review.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a Classifier with the given validation threshold
func NewClassifier(threshold float64) *Classifier {
	return &Classifier{threshold: threshold}
}

// Classify runs the rule pipeline: document type match on URL/filename/text,
// policy category detection, confidence scoring with file-size heuristics,
// then the validated-or-pending decision.
func (c *Classifier) Classify(in Input) Result {
	urlLower := strings.ToLower(in.URL)
	filenameLower := strings.ToLower(in.Filename)
	textLower := strings.ToLower(in.TextSample)
	combined := urlLower + " " + filenameLower
	if textLower != "" {
		combined += " " + textLower
	}

	res := Result{
		DocumentType: "Unclassified",
		PolicyType:   in.PolicyType,
	}

	// Document type: best-scoring keyword across all rules. Matches in the
	// URL path and filename are more reliable than body text, so they add
	// small boosts on top of the rule weight.
	bestScore := 0.0
	for _, rule := range docTypeRules {
		for _, keyword := range rule.Keywords {
			if !strings.Contains(combined, keyword) {
				continue
			}
			score := rule.Weight
			if strings.Contains(urlLower, keyword) {
				score += 0.05
			}
			if strings.Contains(filenameLower, keyword) {
				score += 0.05
			}
			if textLower != "" && strings.Contains(textLower, keyword) {
				score += 0.1
			}
			if score > bestScore {
				bestScore = score
				res.DocumentType = rule.Type
				res.MatchedKeyword = keyword
			}
		}
	}

	// Policy category: weighted keyword hits, multi-word phrases count more
	bestPtScore := 0
	for _, rule := range policyTypeRules {
		score := 0
		for _, kw := range rule.Keywords {
			multiword := strings.ContainsAny(kw, " -")
			if strings.Contains(urlLower, kw) {
				score += weight(multiword, 4, 2)
			}
			if strings.Contains(filenameLower, kw) {
				score += weight(multiword, 6, 3)
			}
			if textLower != "" && strings.Contains(textLower, kw) {
				score += weight(multiword, 3, 1)
			}
		}
		// Pet keywords are short and rarely appear in URLs, so boost
		if rule.Name == "Pet" && score > 0 {
			score = int(float64(score) * 1.2)
		}
		if score > bestPtScore {
			bestPtScore = score
			res.PolicyType = rule.Name
		}
	}

	if bestPtScore > 0 && bestScore > 0 {
		bestScore = math.Min(bestScore+0.05, 1.0)
	}

	switch {
	case bestScore > 0:
		res.Confidence = math.Min(bestScore, 1.0)
	case bestPtScore > 0:
		// Category detected but no document type keyword; still worth keeping
		res.Confidence = math.Min(0.4+float64(bestPtScore)*0.05, 0.7)
		res.DocumentType = "General Document"
		res.Warnings = append(res.Warnings, "Document type unclear, policy category detected from filename/text")
	case strings.Contains(urlLower, ".pdf") || strings.Contains(filenameLower, ".pdf"):
		res.Confidence = 0.3
		res.DocumentType = "General Document"
		res.Warnings = append(res.Warnings, "No classification keyword match")
	default:
		res.Confidence = 0.1
		res.DocumentType = "Unknown"
		res.Warnings = append(res.Warnings, "Unable to classify")
	}

	// File size sanity: tiny files are rarely full policy documents
	switch {
	case in.FileSize > 0 && in.FileSize < 10_000:
		res.Confidence *= 0.5
		res.Warnings = append(res.Warnings, "Very small file")
	case in.FileSize > 0 && in.FileSize < 50_000:
		res.Confidence *= 0.8
		res.Warnings = append(res.Warnings, "Small file size")
	case in.FileSize > 20_000_000:
		res.Confidence *= 0.9
		res.Warnings = append(res.Warnings, "Very large file")
	}

	res.Confidence = math.Round(res.Confidence*100) / 100

	switch {
	case res.Confidence >= c.threshold:
		res.Status = models.DocumentStatusValidated
	case res.Confidence >= 0.5:
		res.Status = models.DocumentStatusPending
		res.Warnings = append(res.Warnings, "Low confidence, manual review recommended")
	default:
		res.Status = models.DocumentStatusPending
		res.Warnings = append(res.Warnings, "Very low confidence, requires manual review")
	}

	res.Insurer = KnownInsurer(in.URL)
	return res
}

func weight(multiword bool, multi, single int) int {
	if multiword {
		return multi
	}
	return single
}

// KnownInsurer returns the display name of the insurer whose domain pattern
// matches the URL's host, or "" if none match.
func KnownInsurer(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	domain := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	base, _, _ := strings.Cut(domain, ".")
	for _, ki := range knownInsurers {
		if strings.Contains(base, ki.Pattern) || strings.Contains(domain, ki.Pattern) {
			return ki.Name
		}
	}
	return ""
}

// InsurerFromURL derives an insurer label for a document: the known-insurer
// display name when the domain matches, otherwise the first domain label
// title-cased and sanitized for use as a directory name.
func InsurerFromURL(rawURL string) string {
	if name := KnownInsurer(rawURL); name != "" {
		return name
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "Unknown"
	}
	domain := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	base, _, _ := strings.Cut(domain, ".")
	if base == "" {
		return "Unknown"
	}
	return utils.SanitizeFilename(strings.ToUpper(base[:1]) + base[1:])
}
