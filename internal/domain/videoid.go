package domain

import "regexp"

// Matches watch URLs, short youtu.be links, /embed/ and /v/ paths.
var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

// ExtractVideoID pulls the 11-character YouTube video id out of a URL.
// Returns "" when the URL is not a recognizable YouTube link.
func ExtractVideoID(url string) string {
	m := videoIDPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}
