package masking

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var bracketVariants = strings.NewReplacer(
	`\(`, `[(（]`,
	`（`, `[(（]`,
	`\)`, `[)）]`,
	`）`, `[)）]`,
)

// rulePattern matches target literally, except that half-width and
// full-width parentheses match each other.
func rulePattern(target string) *regexp.Regexp {
	return regexp.MustCompile(bracketVariants.Replace(regexp.QuoteMeta(target)))
}

// Compute masks original with the manual rules first (longest target first)
// and then every enabled detector in catalog order. It is pure and
// deterministic for fixed inputs.
func Compute(original string, rules []MaskRule, enabled DetectorSet) *Result {
	result := &Result{
		MaskedText:     original,
		PlaceholderMap: make(PlaceholderMap),
		Findings:       []Finding{},
	}

	ordered := make([]MaskRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return utf8.RuneCountInString(ordered[i].Target) > utf8.RuneCountInString(ordered[j].Target)
	})

	for _, rule := range ordered {
		if rule.Target == "" || rule.Placeholder == "" {
			continue
		}

		re := rulePattern(rule.Target)
		text, count := replaceUnprotected(result.MaskedText, result.PlaceholderMap, re, nil, func(string) string {
			return rule.Placeholder
		})
		if count == 0 {
			continue
		}

		result.MaskedText = text
		result.PlaceholderMap[rule.Placeholder] = rule.Target
		result.TotalReplacements += count
		result.Findings = append(result.Findings, Finding{
			Source:      rule.ID,
			Kind:        FindingRule,
			Placeholder: rule.Placeholder,
			Count:       count,
		})
	}

	for _, d := range catalog {
		if !enabled.Has(d.ID) {
			continue
		}

		detector := d
		n := 0
		var pending [][2]string
		text, count := replaceUnprotected(result.MaskedText, result.PlaceholderMap, detector.Pattern, detector.bounded, func(match string) string {
			n++
			placeholder := detector.Prefix + strconv.Itoa(n) + "]"
			pending = append(pending, [2]string{placeholder, match})
			return placeholder
		})
		if count == 0 {
			continue
		}

		result.MaskedText = text
		for _, p := range pending {
			result.PlaceholderMap[p[0]] = p[1]
		}
		result.TotalReplacements += count
		result.Findings = append(result.Findings, Finding{
			Source:      detector.ID,
			Kind:        FindingDetector,
			Placeholder: detector.Prefix,
			Count:       count,
		})
	}

	return result
}

// Unmask replaces every placeholder in text with its original value, longest
// placeholder first.
func Unmask(text string, placeholders PlaceholderMap) string {
	if len(placeholders) == 0 {
		return text
	}

	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(keys[i]), utf8.RuneCountInString(keys[j])
		if li != lj {
			return li > lj
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		text = strings.ReplaceAll(text, k, placeholders[k])
	}
	return text
}

type span struct{ start, end int }

// protectedSpans returns the non-overlapping byte ranges of text occupied by
// placeholders that were already inserted.
func protectedSpans(text string, placeholders PlaceholderMap) []span {
	if len(placeholders) == 0 {
		return nil
	}

	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	var spans []span
	for _, k := range keys {
		from := 0
		for {
			idx := strings.Index(text[from:], k)
			if idx < 0 {
				break
			}
			s := span{from + idx, from + idx + len(k)}
			from = s.end
			if !overlapsAny(spans, s) {
				spans = append(spans, s)
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func overlapsAny(spans []span, s span) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}

// replaceUnprotected replaces every match of re that lies outside existing
// placeholders. accept, when set, can veto a match by its position in the
// enclosing gap. It returns the new text and the number of replacements.
func replaceUnprotected(
	text string,
	placeholders PlaceholderMap,
	re *regexp.Regexp,
	accept func(gap string, start, end int) bool,
	replace func(match string) string,
) (string, int) {
	spans := protectedSpans(text, placeholders)

	var b strings.Builder
	count := 0
	cursor := 0

	flushGap := func(gap string) {
		last := 0
		for _, loc := range re.FindAllStringIndex(gap, -1) {
			if loc[0] == loc[1] {
				continue
			}
			if accept != nil && !accept(gap, loc[0], loc[1]) {
				continue
			}
			b.WriteString(gap[last:loc[0]])
			b.WriteString(replace(gap[loc[0]:loc[1]]))
			last = loc[1]
			count++
		}
		b.WriteString(gap[last:])
	}

	for _, s := range spans {
		flushGap(text[cursor:s.start])
		b.WriteString(text[s.start:s.end])
		cursor = s.end
	}
	flushGap(text[cursor:])

	if count == 0 {
		return text, 0
	}
	return b.String(), count
}
