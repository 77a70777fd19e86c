package git

import (
	"strings"
	"unicode"
)

// MaxSubjectLength is the longest commit subject produced by CommitSubject.
const MaxSubjectLength = 50

// CommitSubject turns a task title into a commit subject: whitespace is
// collapsed, a trailing period dropped, the text cut at a word boundary to
// MaxSubjectLength characters and the first letter capitalised. An empty
// title yields "Update <taskID>".
func CommitSubject(title, taskID string) string {
	subject := strings.Join(strings.Fields(title), " ")
	subject = strings.TrimRight(subject, ".")

	runes := []rune(subject)
	if len(runes) > MaxSubjectLength {
		cut := MaxSubjectLength
		for i := MaxSubjectLength; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		runes = []rune(strings.TrimSpace(string(runes[:cut])))
	}

	if len(runes) == 0 {
		return "Update " + taskID
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
