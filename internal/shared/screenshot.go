package shared

import "regexp"

// ScreenshotMarker prefixes the log line an engine script prints after
// saving a screenshot.
const ScreenshotMarker = "SCREENSHOT_SAVED:"

// The path ends at whitespace or a quote so markers embedded in JSON
// responses parse too.
var screenshotRe = regexp.MustCompile(ScreenshotMarker + `\s*([^\s"'\\]+)`)

// ScreenshotPath returns the path from the last marker in output, or ""
// when there is none.
func ScreenshotPath(output string) string {
	m := screenshotRe.FindAllStringSubmatch(output, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}
