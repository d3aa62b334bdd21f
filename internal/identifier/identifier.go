package identifier

import (
	"path"
	"sort"

	"github.com/go-enry/go-enry/v2"

	"github.com/classgrade/gradepipe/internal/types"
)

// Dominant heuristically determines the language of a submission payload:
// the language owning the most bytes wins, ties break lexicographically so
// the result is deterministic for a given payload.
func Dominant(files []types.SubmissionFile) string {
	totals := make(map[string]int64)

	for _, f := range files {
		if enry.IsVendor(f.Path) || enry.IsDocumentation(f.Path) {
			continue
		}

		lang := enry.GetLanguage(path.Base(f.Path), f.Data)
		if lang == "" {
			continue
		}

		totals[lang] += int64(len(f.Data))
	}

	if len(totals) == 0 {
		return ""
	}

	langs := make([]string, 0, len(totals))
	for lang := range totals {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	best := langs[0]
	for _, lang := range langs[1:] {
		if totals[lang] > totals[best] {
			best = lang
		}
	}

	return best
}
