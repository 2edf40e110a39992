package download

import "regexp"

var drivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://drive\.google\.com/file/d/([^/?#]+)`),
	regexp.MustCompile(`^https://drive\.google\.com/open\?id=([^&#]+)`),
	regexp.MustCompile(`^https://drive\.google\.com/uc\?id=([^&#]+)`),
}

// DriveFileID extracts the file id of a Google Drive share link.
func DriveFileID(link string) (string, bool) {
	for _, p := range drivePatterns {
		if m := p.FindStringSubmatch(link); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// DirectLink rewrites Google Drive share links into direct download links.
// Other links are returned unchanged.
func DirectLink(link string) string {
	if id, ok := DriveFileID(link); ok {
		return "https://drive.google.com/uc?export=download&id=" + id
	}
	return link
}
