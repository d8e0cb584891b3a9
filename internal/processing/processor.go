package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/DeafMist/fomc-tracker/internal/models"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`[\s\p{Zs}]+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "with": {}, "from": {}, "for": {},
	"this": {}, "were": {}, "was": {}, "have": {}, "has": {}, "had": {},
	"its": {}, "their": {}, "which": {}, "would": {}, "been": {}, "also": {},
	"committee": {}, "participants": {}, "federal": {}, "reserve": {},
}

// SqueezeSpace decodes HTML entities and collapses runs of whitespace into a
// single space. Punctuation is kept.
func SqueezeSpace(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// CleanText strips HTML entities, URLs and punctuation and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ExtractKeywords returns the most frequent words that are not stop-words.
func ExtractKeywords(text string, limit, minLen int) []string {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}

	return keywords
}

// BuildDocumentID hashes the dataset key so a re-scraped communication maps to
// the same document.
func BuildDocumentID(date time.Time, typ models.Type) string {
	s := sha1.Sum([]byte(models.FormatDate(date) + "|" + string(typ)))
	return hex.EncodeToString(s[:])
}

// Summary returns the first sentence of text, cut to maxWords words.
func Summary(text string, maxWords int) string {
	if text == "" {
		return ""
	}

	sentenceEnd := strings.IndexAny(text, ".!?")
	var firstSentence string
	if sentenceEnd > 0 {
		firstSentence = strings.TrimSpace(text[:sentenceEnd])
	} else {
		firstSentence = text
	}

	words := strings.Fields(firstSentence)
	if len(words) == 0 {
		return ""
	}

	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}

	return strings.Join(words, " ")
}

// BuildDocument derives the search document of a communication.
func BuildDocument(c models.Communication) models.CommunicationDocument {
	return models.CommunicationDocument{
		ID:          BuildDocumentID(c.Date, c.Type),
		Title:       fmt.Sprintf("FOMC %s, %s", c.Type, c.Date.Format("January 2, 2006")),
		Summary:     Summary(c.Text, 25),
		Text:        c.Text,
		Type:        c.Type,
		Date:        c.Date,
		ReleaseDate: c.ReleaseDate,
		Keywords:    ExtractKeywords(c.Text, 8, 4),
	}
}
