package viz

import (
	"net/url"
	"regexp"
	"strings"
)

// trustedChartHost is preferred when a response mentions several chart
// URLs.
const trustedChartHost = "quickchart.io"

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	markdownLinkPattern  = regexp.MustCompile(`\[[^\]]*\]\((https?://[^\s)]+)\)`)
	bareURLPattern       = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
)

// ExtractURLs pulls candidate URLs out of free text. Markdown image
// targets are tried first, then markdown link targets, then bare URLs;
// the first pattern that matches anything wins, so a response that
// embeds its chart as an image is not double-counted by the looser
// patterns.
func ExtractURLs(text string) []string {
	for _, pattern := range []*regexp.Regexp{markdownImagePattern, markdownLinkPattern} {
		matches := pattern.FindAllStringSubmatch(text, -1)
		if len(matches) > 0 {
			urls := make([]string, 0, len(matches))
			for _, m := range matches {
				urls = append(urls, m[1])
			}
			return urls
		}
	}
	return bareURLPattern.FindAllString(text, -1)
}

// NormalizeURL strips the query string and fragment, and any trailing
// punctuation picked up by the bare-URL pattern. Invalid URLs come
// back empty.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimRight(raw, ".,;:!?")
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// SelectChartRef reduces the candidates to at most one chart
// reference: normalize, drop invalid, dedupe preserving order, then
// prefer a URL on the trusted chart host, falling back to the first
// seen. Returns "" when nothing survives.
func SelectChartRef(candidates []string) string {
	seen := make(map[string]struct{})
	var ordered []string
	for _, raw := range candidates {
		normalized := NormalizeURL(raw)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		ordered = append(ordered, normalized)
	}
	if len(ordered) == 0 {
		return ""
	}

	for _, u := range ordered {
		parsed, err := url.Parse(u)
		if err == nil && strings.HasSuffix(parsed.Host, trustedChartHost) {
			return u
		}
	}
	return ordered[0]
}

// ChartRefFromText extracts, normalizes, and selects a single chart
// reference from model output.
func ChartRefFromText(text string) string {
	return SelectChartRef(ExtractURLs(text))
}
