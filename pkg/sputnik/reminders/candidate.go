// Package reminders implements the reminder subsystem: the cheap candidate
// pre-filter, the multi-step dialogue state machine that turns free text
// into a durable schedule, and the idempotent delivery path with
// recurrence.
package reminders

import (
	"regexp"
	"strings"
)

// candidateKeywords are the trigger substrings that make a message worth a
// model call for reminder extraction. Matching is substring-based on the
// lowercased text; both supported languages are covered.
var candidateKeywords = []string{
	"напомни", "напоминание",
	"remind", "reminder",
	"завтра", "послезавтра", "сегодня",
	"tomorrow", "today", "tonight",
	"каждый", "каждую", "каждое", "ежедневно", "еженедельно",
	"every", "daily", "weekly", "hourly", "monthly",
	"утром", "вечером", "днём", "ночью",
	"morning", "evening", "noon", "midnight",
	"понедельник", "вторник", "сред", "четверг", "пятниц", "суббот", "воскресень",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// candidatePatterns catch relative and clock-time phrases the keyword list
// cannot: "через 10 минут", "in 5 minutes", "at 18:30".
var candidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`через\s+\d`),
	regexp.MustCompile(`\bin\s+\d+\s`),
	regexp.MustCompile(`\bat\s+\d`),
	regexp.MustCompile(`\bв\s+\d{1,2}([:.]\d{2})?\b`),
	regexp.MustCompile(`\d{1,2}:\d{2}`),
}

// IsCandidate reports whether a message looks like it may carry a reminder
// intent. It is a pre-filter only: positives still go through the model,
// negatives skip the model call entirely.
func IsCandidate(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range candidateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, re := range candidatePatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}
