// Package tts builds synthesis commands executed by the browser's
// speech synthesis engine. No audio is produced server-side.
package tts

import (
	"github.com/google/uuid"
)

// VoiceSettings shape how the browser voices a command.
type VoiceSettings struct {
	Pitch  float64 `json:"pitch"`
	Rate   float64 `json:"rate"`
	Volume float64 `json:"volume"`
	Voice  string  `json:"voice,omitempty"`
}

// Command is one opaque synthesis instruction for the frontend.
type Command struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Settings VoiceSettings `json:"settings"`
}

// Voice describes one synthesis voice suggestion.
type Voice struct {
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Language string `json:"lang"`
}

// Builder produces browser synthesis commands with per-language rate
// adjustments.
type Builder struct{}

// NewBuilder creates a command builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Synthesize builds a synthesis command for text in language. Settings
// may be nil; language-specific rate adjustments are applied on top of
// whatever the caller provides.
func (b *Builder) Synthesize(text, language string, settings *VoiceSettings) *Command {
	s := VoiceSettings{Pitch: 1.0, Rate: 1.0, Volume: 1.0}
	if settings != nil {
		s = *settings
		if s.Pitch == 0 {
			s.Pitch = 1.0
		}
		if s.Rate == 0 {
			s.Rate = 1.0
		}
		if s.Volume == 0 {
			s.Volume = 1.0
		}
	}

	// Japanese and Chinese read better slightly slower.
	switch language {
	case "ja-JP":
		s.Rate *= 0.9
	case "zh-CN":
		s.Rate *= 0.95
	}

	return &Command{
		ID:       uuid.NewString(),
		Text:     text,
		Language: language,
		Settings: s,
	}
}

// Voices returns voice suggestions for a language, or all suggestions
// when language is empty. Actual availability is decided by the browser.
func (b *Builder) Voices(language string) []Voice {
	byLang := map[string][]Voice{
		"ja-JP": {
			{Name: "Japanese Female", Gender: "female", Language: "ja-JP"},
			{Name: "Japanese Male", Gender: "male", Language: "ja-JP"},
		},
		"en-US": {
			{Name: "English Female", Gender: "female", Language: "en-US"},
			{Name: "English Male", Gender: "male", Language: "en-US"},
		},
		"zh-CN": {
			{Name: "Chinese Female", Gender: "female", Language: "zh-CN"},
			{Name: "Chinese Male", Gender: "male", Language: "zh-CN"},
		},
		"ko-KR": {
			{Name: "Korean Female", Gender: "female", Language: "ko-KR"},
			{Name: "Korean Male", Gender: "male", Language: "ko-KR"},
		},
	}

	if language != "" {
		return byLang[language]
	}
	var all []Voice
	for _, lang := range SupportedLanguages() {
		all = append(all, byLang[lang]...)
	}
	return all
}

// SupportedLanguages lists languages the frontend synthesis supports.
func SupportedLanguages() []string {
	return []string{
		"ja-JP", "en-US", "en-GB", "zh-CN", "zh-TW", "ko-KR",
		"es-ES", "fr-FR", "de-DE", "it-IT", "pt-BR", "ru-RU",
	}
}
