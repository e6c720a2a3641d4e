package ai

import "unicode"

// Language codes used throughout the server.
const (
	LangJapanese = "ja-JP"
	LangEnglish  = "en-US"
	LangAuto     = "auto"
)

// Detector classifies text by dominant script. Thresholds are
// configuration, not constants: UserRatio applies to user input (biased
// low so mixed utterances lean Japanese), ResponseRatio is the majority
// rule for generated text.
type Detector struct {
	UserRatio     float64
	ResponseRatio float64
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(userRatio, responseRatio float64) *Detector {
	return &Detector{UserRatio: userRatio, ResponseRatio: responseRatio}
}

// DetectUserLanguage classifies user input as Japanese or English.
func (d *Detector) DetectUserLanguage(text string) string {
	if japaneseRatio(text) > d.UserRatio {
		return LangJapanese
	}
	return LangEnglish
}

// ResponseLanguage picks the synthesis language for a generated
// response. A reply to a Japanese speaker that is itself at least
// UserRatio Japanese is pinned to Japanese even when the majority rule
// would say otherwise, so mixed-language replies are still voiced in
// the user's dominant language.
func (d *Detector) ResponseLanguage(response, userLanguage string) string {
	ratio := japaneseRatio(response)
	if userLanguage == LangJapanese && ratio > d.UserRatio {
		return LangJapanese
	}
	if ratio > d.ResponseRatio {
		return LangJapanese
	}
	if countNonSpace(response) == 0 {
		return userLanguage
	}
	return LangEnglish
}

// japaneseRatio returns the share of non-space characters that are
// Japanese script (CJK punctuation/ideographs, hiragana, katakana).
func japaneseRatio(text string) float64 {
	total := 0
	japanese := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isJapanese(r) {
			japanese++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(japanese) / float64(total)
}

func isJapanese(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0x3040 && r <= 0x309F: // hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // katakana
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // kanji
		return true
	}
	return false
}

func countNonSpace(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
