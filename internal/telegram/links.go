package telegram

import (
	"regexp"
	"strings"
)

// Resource link patterns. Only links that point at downloadable or joinable
// resources are extracted, not every URL in a message.
var (
	tmeLinkRe    = regexp.MustCompile(`https?://t\.me/[\w+/-]+`)
	magnetLinkRe = regexp.MustCompile(`magnet:\?xt=urn:[a-zA-Z0-9:]+[^\s]*`)
	fileLinkRe   = regexp.MustCompile(`https?://[^\s<>"]+?\.(?:zip|rar|7z|tar|gz|pdf|epub|mp4|mkv|mp3|flac|apk|iso|torrent)(?:\?[^\s<>"]*)?`)
)

// ExtractResourceLinks returns resource links found in text, in order of
// appearance, with duplicates removed.
func ExtractResourceLinks(text string) []string {
	if text == "" {
		return nil
	}

	var links []string
	seen := make(map[string]struct{})
	add := func(matches []string) {
		for _, m := range matches {
			m = strings.TrimRight(m, ".,;:)")
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			links = append(links, m)
		}
	}

	add(tmeLinkRe.FindAllString(text, -1))
	add(magnetLinkRe.FindAllString(text, -1))
	add(fileLinkRe.FindAllString(text, -1))
	return links
}
