package index

import (
	"slices"
	"testing"
)

func TestTokenizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  []string
	}{
		{
			"splits on whitespace and punctuation",
			"2025 AI Startup-Support Program (Seoul)",
			[]string{"2025", "ai", "startup", "support", "program", "seoul"},
		},
		{
			"korean titles tokenize",
			"초기창업패키지 참여기업 모집 공고",
			[]string{"초기창업패키지", "참여기업", "모집", "공고"},
		},
		{
			"single-rune tokens dropped",
			"K 및 AI 지원",
			[]string{"ai", "지원"},
		},
		{
			"duplicates collapse keeping first position",
			"지원 사업 지원 공고",
			[]string{"지원", "사업", "공고"},
		},
		{"empty title", "", nil},
		{"punctuation only", "--- !!!", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenizeTitle(tt.title)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("TokenizeTitle(%q) = %v, want %v", tt.title, got, tt.want)
			}
		})
	}
}

func BenchmarkTokenizeTitle(b *testing.B) {
	title := "2025년 초기창업패키지 (예비)창업자 모집 공고 - AI/빅데이터 분야"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		TokenizeTitle(title)
	}
}
