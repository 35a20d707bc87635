package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/rs/zerolog/log"
)

// Sanitizer verdicts
const (
	SanitizePassed       = "passed"
	SanitizeInputTooLong = "input_too_long"
	SanitizeBlocked      = "blocked_pattern"
	SanitizeEmpty        = "empty_input"
)

// SanitizeResult is the outcome of deterministic input sanitization
type SanitizeResult struct {
	Status          string
	Passed          bool
	Sanitized       string
	OriginalLength  int
	SanitizedLength int
	BlockedPattern  string // reason code when Status == SanitizeBlocked
}

var (
	invisibleChars = regexp.MustCompile("[\\x{200b}-\\x{200f}\\x{2028}-\\x{202f}\\x{2060}-\\x{206f}\\x{feff}\\x{00ad}]")
	controlChars   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	scriptBlocks   = regexp.MustCompile("(?is)<script[^>]*>.*?</script\\s*>")
	htmlTags       = regexp.MustCompile("<[^>]+>")
	multiSpaces    = regexp.MustCompile("[ \t]+")
	multiNewlines  = regexp.MustCompile("\n{3,}")
)

// blockedPatterns is the fixed jailbreak blocklist: (pattern, reason code)
var blockedPatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)system\s+prompt`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)reveal\s+your\s+(instructions?|prompt|rules)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)show\s+me\s+your\s+(instructions?|prompt|rules)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)what\s+(are|is)\s+your\s+(instructions?|prompt|rules|system)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s+`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|a|an)\s+`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)DAN\s+mode`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)developer\s+mode`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)jailbreak`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)bypass\s+(your\s+)?(safety|restrictions?|rules?|filters?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(safety|restrictions?|rules?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)disable\s+(your\s+)?(safety|restrictions?|rules?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)base64[:\s]`), "encoding_trick"},
	{regexp.MustCompile(`(?i)decode\s+this[:\s]`), "encoding_trick"},
	{regexp.MustCompile(`(?i)rot13[:\s]`), "encoding_trick"},
}

// homoglyphs maps common Cyrillic/Greek look-alikes onto Latin so folded
// text cannot slip past the blocklist
var homoglyphs = strings.NewReplacer(
	"а", "a", // Cyrillic а
	"е", "e", // Cyrillic е
	"о", "o", // Cyrillic о
	"р", "p", // Cyrillic р
	"с", "c", // Cyrillic с
	"у", "y", // Cyrillic у
	"х", "x", // Cyrillic х
	"і", "i", // Cyrillic і
	"ј", "j", // Cyrillic ј
	"ѕ", "s", // Cyrillic ѕ
	"ο", "o", // Greek ο
	"α", "a", // Greek α
)

// Sanitizer normalizes and screens user input without any model call.
// Sanitization is idempotent: applying it twice equals applying it once.
type Sanitizer struct {
	maxLength int
}

// NewSanitizer creates the input sanitizer
func NewSanitizer(maxLength int) *Sanitizer {
	return &Sanitizer{maxLength: maxLength}
}

// Sanitize normalizes input and runs the blocklist
func (s *Sanitizer) Sanitize(input string, ipHash string) SanitizeResult {
	originalLength := len([]rune(input))

	if strings.TrimSpace(input) == "" {
		return SanitizeResult{Status: SanitizeEmpty, OriginalLength: originalLength}
	}

	if originalLength > s.maxLength {
		return SanitizeResult{Status: SanitizeInputTooLong, OriginalLength: originalLength}
	}

	text := norm.NFKC.String(input)
	text = homoglyphs.Replace(text)
	text = invisibleChars.ReplaceAllString(text, "")
	text = controlChars.ReplaceAllString(text, "")
	text = scriptBlocks.ReplaceAllString(text, "")
	text = htmlTags.ReplaceAllString(text, "")
	text = multiSpaces.ReplaceAllString(text, " ")
	text = multiNewlines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if text == "" {
		return SanitizeResult{Status: SanitizeEmpty, OriginalLength: originalLength}
	}

	for _, bp := range blockedPatterns {
		if bp.pattern.MatchString(text) {
			log.Warn().
				Str("reason", bp.reason).
				Str("ip_hash", ipHash).
				Msg("blocked pattern detected")
			return SanitizeResult{
				Status:          SanitizeBlocked,
				OriginalLength:  originalLength,
				SanitizedLength: len([]rune(text)),
				BlockedPattern:  bp.reason,
			}
		}
	}

	if len([]rune(text)) > s.maxLength {
		return SanitizeResult{
			Status:          SanitizeInputTooLong,
			OriginalLength:  originalLength,
			SanitizedLength: len([]rune(text)),
		}
	}

	return SanitizeResult{
		Status:          SanitizePassed,
		Passed:          true,
		Sanitized:       text,
		OriginalLength:  originalLength,
		SanitizedLength: len([]rune(text)),
	}
}
