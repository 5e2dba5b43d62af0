// Package text prepares chat messages for speech.
//
// Chat text carries markup that reads badly aloud: custom emoji tags, mentions,
// links and markdown. The Normalizer rewrites it into plain spoken text before a
// message is queued for synthesis.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// LinkWord replaces every URL in spoken text.
const LinkWord = "link"

// Regex patterns for chat markup.
const (
	customEmojiRegexPattern = `<a?:(\w+):\d+>`
	mentionRegexPattern     = `<(?:@[!&]?|#)\d+>`
	timestampRegexPattern   = `<t:-?\d+(?::[tTdDfFR])?>`
	urlRegexPattern         = `<?https?://[^\s>]+>?`
	markdownRegexPattern    = "[*~`|]+|__+"
	whitespaceRegexPattern  = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "\u2014"
	enDash       = "\u2013"
	figureDash   = "\u2012"
	ellipsis     = "..."
	ellipsisChar = "\u2026"
)

// Normalizer rewrites chat markup into speakable text. It is safe for concurrent use.
type Normalizer struct {
	customEmojiPattern *regexp.Regexp
	mentionPattern     *regexp.Regexp
	timestampPattern   *regexp.Regexp
	urlPattern         *regexp.Regexp
	markdownPattern    *regexp.Regexp
	whitespacePattern  *regexp.Regexp
	quoteReplacer      *strings.Replacer
}

// NewNormalizer compiles the markup patterns once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		customEmojiPattern: regexp.MustCompile(customEmojiRegexPattern),
		mentionPattern:     regexp.MustCompile(mentionRegexPattern),
		timestampPattern:   regexp.MustCompile(timestampRegexPattern),
		urlPattern:         regexp.MustCompile(urlRegexPattern),
		markdownPattern:    regexp.MustCompile(markdownRegexPattern),
		whitespacePattern:  regexp.MustCompile(whitespaceRegexPattern),
		quoteReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns text as it should be spoken. An empty result means there is
// nothing worth speaking.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	spoken := n.replaceCustomEmoji(text)
	spoken = n.mentionPattern.ReplaceAllString(spoken, " ")
	spoken = n.timestampPattern.ReplaceAllString(spoken, " ")
	spoken = n.urlPattern.ReplaceAllString(spoken, " "+LinkWord+" ")
	spoken = n.markdownPattern.ReplaceAllString(spoken, "")
	spoken = n.quoteReplacer.Replace(spoken)
	spoken = collapseRepeatedPunctuation(spoken)
	spoken = n.normalizeWhitespace(spoken)

	if !hasSpeakableRune(spoken) {
		return ""
	}

	return spoken
}

// replaceCustomEmoji keeps the emoji's name and drops its ID.
func (n *Normalizer) replaceCustomEmoji(text string) string {
	return n.customEmojiPattern.ReplaceAllStringFunc(text, func(tag string) string {
		match := n.customEmojiPattern.FindStringSubmatch(tag)
		name := strings.ReplaceAll(match[1], "_", " ")

		return " " + name + " "
	})
}

func (n *Normalizer) normalizeWhitespace(text string) string {
	return strings.TrimSpace(n.whitespacePattern.ReplaceAllString(text, " "))
}

// collapseRepeatedPunctuation turns runs of the same punctuation mark into one.
func collapseRepeatedPunctuation(text string) string {
	var (
		result strings.Builder
		last   rune
	)

	result.Grow(len(text))

	for _, char := range text {
		if char == last && unicode.IsPunct(char) {
			continue
		}

		result.WriteRune(char)

		last = char
	}

	return result.String()
}

func hasSpeakableRune(text string) bool {
	for _, char := range text {
		if unicode.IsLetter(char) || unicode.IsNumber(char) || unicode.IsSymbol(char) {
			return true
		}
	}

	return false
}
