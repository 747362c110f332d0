package unicodescan

import (
	"strings"
	"testing"
)

func TestClassifyRune(t *testing.T) {
	testCases := []struct {
		name string
		r    rune
		want Script
	}{
		{"latin lower", 'a', ScriptLatin},
		{"latin upper", 'Z', ScriptLatin},
		{"latin extended", 'é', ScriptLatin},
		{"digit is ascii", '7', ScriptASCII},
		{"punctuation is ascii", '!', ScriptASCII},
		{"cyrillic", 'д', ScriptCyrillic},
		{"greek", 'λ', ScriptGreek},
		{"armenian", 'ա', ScriptArmenian},
		{"hebrew", 'ש', ScriptHebrew},
		{"arabic", 'م', ScriptArabic},
		{"hangul", '한', ScriptHangul},
		{"hiragana", 'ひ', ScriptHiragana},
		{"katakana", 'カ', ScriptKatakana},
		{"cjk", '中', ScriptCJK},
		{"thai", 'ก', ScriptThai},
		{"control is other", '\u0001', ScriptOther},
		{"emoji is other", '🎉', ScriptOther},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRune(tc.r); got != tc.want {
				t.Errorf("ClassifyRune(%q) = %s, want %s", tc.r, got, tc.want)
			}
		})
	}
}

func TestAnalyzePureLatinIsSafe(t *testing.T) {
	texts := []string{
		"Hello, world!",
		"The quick brown fox jumps over the lazy dog 42 times.",
		"admin@company.com",
	}
	for _, text := range texts {
		v := Analyze(text)
		if !v.IsSafe {
			t.Errorf("pure Latin %q flagged unsafe", text)
		}
		if v.Confidence >= 0.5 {
			t.Errorf("pure Latin %q confidence = %.2f, want < 0.5", text, v.Confidence)
		}
		if len(v.DetectedHomoglyphs) != 0 {
			t.Errorf("pure Latin %q detected homoglyphs: %v", text, v.DetectedHomoglyphs)
		}
	}
}

func TestAnalyzePureNonLatinIsSafe(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{"cyrillic", "Привет, как дела сегодня"},
		{"greek", "Καλημέρα σας φίλε μου"},
		{"cjk", "你好世界这是一个测试"},
		{"hangul", "안녕하세요 세계"},
		{"arabic", "مرحبا بالعالم"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := Analyze(tc.text)
			if !v.IsSafe {
				t.Errorf("pure %s text flagged unsafe (confidence %.2f)", tc.name, v.Confidence)
			}
		})
	}
}

func TestAnalyzeSparseSpoofing(t *testing.T) {
	// "Hello" plus two Cyrillic lookalikes (е for e, ӏ for l) buried in an
	// otherwise-Latin sentence of length > 10.
	text := "Hеӏlo there, please reset my account password"
	v := Analyze(text)

	if v.IsSafe {
		t.Fatalf("sparse Cyrillic spoofing not flagged: confidence %.2f", v.Confidence)
	}
	if v.Confidence < 0.5 {
		t.Errorf("confidence = %.2f, want >= 0.5", v.Confidence)
	}
	if len(v.DetectedHomoglyphs) < 2 {
		t.Errorf("expected at least 2 homoglyph entries, got %v", v.DetectedHomoglyphs)
	}
	if !v.MixedScripts[ScriptCyrillic] {
		t.Error("expected cyrillic in mixed scripts")
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	v := Analyze("")
	if !v.IsSafe || v.Confidence != 0 {
		t.Errorf("empty input: got safe=%v confidence=%.2f, want safe with zero confidence", v.IsSafe, v.Confidence)
	}
}

func TestAnalyzeHomoglyphEntryFormat(t *testing.T) {
	v := Analyze("pаypаl login") // Cyrillic а twice
	if len(v.DetectedHomoglyphs) != 2 {
		t.Fatalf("expected 2 entries, got %v", v.DetectedHomoglyphs)
	}
	if !strings.Contains(v.DetectedHomoglyphs[0], "U+0430") {
		t.Errorf("entry missing codepoint: %q", v.DetectedHomoglyphs[0])
	}
	if !strings.Contains(v.DetectedHomoglyphs[0], "looks like 'a'") {
		t.Errorf("entry missing Latin target: %q", v.DetectedHomoglyphs[0])
	}
}

func TestNormalizeHomoglyphs(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"pаypаl", "paypal"}, // Cyrillic а
		{"аdmin", "admin"},
		{"plain ascii", "plain ascii"},
		{"", ""},
	}

	for _, tc := range testCases {
		if got := NormalizeHomoglyphs(tc.in); got != tc.want {
			t.Errorf("NormalizeHomoglyphs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAreVisuallyConfusable(t *testing.T) {
	if !AreVisuallyConfusable("admin@company.com", "аdmin@company.com") {
		t.Error("spoofed admin address not detected as confusable")
	}
	for _, s := range []string{"", "admin", "пароль", "pаypаl"} {
		if AreVisuallyConfusable(s, s) {
			t.Errorf("identical string %q reported confusable with itself", s)
		}
	}
	if AreVisuallyConfusable("alice", "bob") {
		t.Error("unrelated strings reported confusable")
	}
}

func TestReverseMapIsFunction(t *testing.T) {
	// Every confusable codepoint maps to exactly one canonical Latin char.
	seen := make(map[rune]rune)
	for _, e := range confusableEntries {
		for _, c := range e.confusables {
			if prev, ok := seen[c]; ok && prev != e.latin {
				t.Errorf("confusable %q maps to both %q and %q", c, prev, e.latin)
			}
			seen[c] = e.latin
		}
	}
}

func BenchmarkAnalyze(b *testing.B) {
	text := "Hеllo there, please reset my аccount password right away"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Analyze(text)
	}
}
