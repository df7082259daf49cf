package extractor

import (
	"fmt"
	"strings"
	"testing"
)

func BenchmarkMarkdown(b *testing.B) {
	page := strings.Repeat("Quarterly figures were reconciled against the ledger. ", 60)
	for _, n := range []int{1, 50, 500} {
		pages := make([]string, n)
		for i := range pages {
			pages[i] = page
		}
		b.Run(fmt.Sprintf("pages=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Markdown(pages)
			}
		})
	}
}
