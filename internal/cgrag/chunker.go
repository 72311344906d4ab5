package cgrag

import "strings"

const (
	defaultWindowWords  = 512
	defaultOverlapWords = 50
)

// chunk splits text into overlapping word windows, preferring to close a
// window at a paragraph break over splitting mid-paragraph (spec.md §4.D).
func chunk(sourcePath, text string) []chunkWindow {
	paragraphs := strings.Split(text, "\n\n")

	var words []string
	var paragraphEnd []bool // paragraphEnd[i] is true if words[i] is the last word of its paragraph
	for pi, p := range paragraphs {
		ws := strings.Fields(p)
		if len(ws) == 0 {
			continue
		}
		for wi, w := range ws {
			words = append(words, w)
			paragraphEnd = append(paragraphEnd, wi == len(ws)-1 && pi < len(paragraphs))
		}
	}
	if len(words) == 0 {
		return nil
	}

	var windows []chunkWindow
	start := 0
	for start < len(words) {
		end := start + defaultWindowWords
		if end >= len(words) {
			end = len(words)
		} else {
			// Look back up to 32 words for a paragraph break to close on.
			for back := 0; back < 32; back++ {
				if paragraphEnd[end-1-back] {
					end = end - back
					break
				}
			}
		}

		windows = append(windows, chunkWindow{
			sourcePath: sourcePath,
			chunkIndex: len(windows),
			text:       strings.Join(words[start:end], " "),
		})

		if end >= len(words) {
			break
		}
		next := end - defaultOverlapWords
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}
