package services

import (
	"regexp"
	"strconv"
	"strings"

	"tubefeed/models"
)

// Chapter extraction scans a video description for timestamp lines.
// Two line shapes are recognized: "0:00 Intro" and "Intro - 0:00".
// The timestamp-first pattern is tried over the whole description; the
// title-first pattern is only consulted when the first yields nothing.
var (
	timeThenTitleRe = regexp.MustCompile(`(?m)^[ \t]*\(?(\d{1,3}(?::\d{1,3})+)\)?[ \t\-–—•:]*(\S[^\n]*?)[ \t]*$`)
	titleThenTimeRe = regexp.MustCompile(`(?m)^[ \t]*(\S[^\n]*?)[ \t\-–—•:]+\(?(\d{1,3}(?::\d{1,3})+)\)?[ \t]*$`)
)

// ExtractChapters derives chapters from a free-text description.
// totalDuration (seconds) closes the final chapter when known; pass 0
// to leave it open-ended. Returns an empty slice when the description
// matches neither heuristic.
func ExtractChapters(description string, totalDuration int) []models.Chapter {
	var chapters []models.Chapter

	for _, m := range timeThenTitleRe.FindAllStringSubmatch(description, -1) {
		if ch, ok := chapterFromMatch(m[1], m[2]); ok {
			chapters = append(chapters, ch)
		}
	}

	if len(chapters) == 0 {
		for _, m := range titleThenTimeRe.FindAllStringSubmatch(description, -1) {
			if ch, ok := chapterFromMatch(m[2], m[1]); ok {
				chapters = append(chapters, ch)
			}
		}
	}

	for i := range chapters {
		chapters[i].Position = i
		if i+1 < len(chapters) {
			end := chapters[i+1].StartSeconds
			dur := end - chapters[i].StartSeconds
			chapters[i].EndSeconds = &end
			chapters[i].DurationSeconds = &dur
		} else if totalDuration > 0 {
			end := totalDuration
			dur := end - chapters[i].StartSeconds
			chapters[i].EndSeconds = &end
			chapters[i].DurationSeconds = &dur
		}
	}

	if chapters == nil {
		return []models.Chapter{}
	}
	return chapters
}

func chapterFromMatch(clock, title string) (models.Chapter, bool) {
	start, ok := ParseClock(clock)
	if !ok {
		return models.Chapter{}, false
	}
	return models.Chapter{
		Title:        strings.TrimSpace(title),
		StartSeconds: start,
		Active:       true,
	}, true
}

// ParseClock parses "MM:SS" or "H:MM:SS" into seconds. Any other field
// count is a parse failure.
func ParseClock(s string) (int, bool) {
	fields := strings.Split(s, ":")
	if len(fields) != 2 && len(fields) != 3 {
		return 0, false
	}

	total := 0
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}
