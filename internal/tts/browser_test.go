package tts

import "testing"

func TestSynthesizeAppliesLanguageRate(t *testing.T) {
	b := NewBuilder()

	ja := b.Synthesize("こんにちは", "ja-JP", nil)
	if ja.Settings.Rate != 0.9 {
		t.Errorf("ja-JP rate = %v, want 0.9", ja.Settings.Rate)
	}
	zh := b.Synthesize("你好", "zh-CN", nil)
	if zh.Settings.Rate != 0.95 {
		t.Errorf("zh-CN rate = %v, want 0.95", zh.Settings.Rate)
	}
	en := b.Synthesize("hello", "en-US", nil)
	if en.Settings.Rate != 1.0 {
		t.Errorf("en-US rate = %v, want 1.0", en.Settings.Rate)
	}
}

func TestSynthesizeScalesCallerRate(t *testing.T) {
	b := NewBuilder()

	cmd := b.Synthesize("こんにちは", "ja-JP", &VoiceSettings{Rate: 2.0, Pitch: 1.2, Volume: 0.5})
	if cmd.Settings.Rate != 1.8 {
		t.Errorf("rate = %v, want caller rate scaled to 1.8", cmd.Settings.Rate)
	}
	if cmd.Settings.Pitch != 1.2 || cmd.Settings.Volume != 0.5 {
		t.Errorf("caller settings not preserved: %+v", cmd.Settings)
	}
}

func TestSynthesizeFillsZeroSettings(t *testing.T) {
	b := NewBuilder()

	cmd := b.Synthesize("hello", "en-US", &VoiceSettings{Pitch: 1.5})
	if cmd.Settings.Rate != 1.0 || cmd.Settings.Volume != 1.0 {
		t.Errorf("zero fields should default to 1.0: %+v", cmd.Settings)
	}
	if cmd.Settings.Pitch != 1.5 {
		t.Errorf("pitch = %v, want 1.5", cmd.Settings.Pitch)
	}
	if cmd.ID == "" {
		t.Error("command must carry an id")
	}
}

func TestVoicesFilterByLanguage(t *testing.T) {
	b := NewBuilder()

	ja := b.Voices("ja-JP")
	if len(ja) == 0 {
		t.Fatal("expected ja-JP voice suggestions")
	}
	for _, v := range ja {
		if v.Language != "ja-JP" {
			t.Errorf("voice %q has language %s", v.Name, v.Language)
		}
	}

	all := b.Voices("")
	if len(all) <= len(ja) {
		t.Error("unfiltered listing should include more voices than one language")
	}
}
