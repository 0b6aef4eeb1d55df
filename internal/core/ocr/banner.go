package ocr

import (
	"regexp"
	"strings"
)

// Placeholder notices ocrmypdf writes into the sidecar for pages it did not OCR.
const (
	bannerSkipped = "ocr skipped on page"
	bannerPrior   = "prior ocr"
	bom           = "\ufeff"
)

// Prior OCR notices only count at the start of a line, as in IsUseful, so the
// pattern is anchored to a line break.
var (
	reSkippedBanner = regexp.MustCompile(`(?i)\[?[ \t]*OCR skipped on pages?[^\]\r\n\f]*\]?`)
	rePriorBanner   = regexp.MustCompile(`(?im)(^|[\r\f])[ \t\v\x{a0}\x{85}]*\x{feff}?[ \t\v\x{a0}\x{85}]*[\[(]?[ \t\v\x{a0}\x{85}]*Prior OCR[^\r\n\f]*`)
	reLineBreaks    = regexp.MustCompile(`\r\n|\r|\n|\f`)
)

// IsUseful reports whether text holds anything besides whitespace and OCR banners.
func IsUseful(text string) bool {
	if strings.TrimSpace(strings.ReplaceAll(text, bom, "")) == "" {
		return false
	}
	for _, line := range reLineBreaks.Split(text, -1) {
		line = trimBannerLine(line)
		if line == "" {
			continue
		}
		if !isBannerLine(line) {
			return true
		}
	}
	return false
}

// trimBannerLine strips whitespace, a leading BOM and one layer of brackets.
func trimBannerLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, bom)
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "[") || strings.HasPrefix(line, "(") {
		line = line[1:]
	}
	if strings.HasSuffix(line, "]") || strings.HasSuffix(line, ")") {
		line = line[:len(line)-1]
	}
	return strings.TrimSpace(line)
}

func isBannerLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, bannerSkipped) || strings.HasPrefix(lower, bannerPrior)
}

// Clean removes every banner fragment from text, collapses the blank lines left
// behind and trims the result. Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func cleanOnce(text string) string {
	s := reSkippedBanner.ReplaceAllString(text, "")
	s = rePriorBanner.ReplaceAllString(s, "$1")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, bom)
	return strings.TrimSpace(s)
}
