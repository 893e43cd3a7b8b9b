package filters

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

var (
	isoDayRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	isoMonthRe  = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	lastNDaysRe = regexp.MustCompile(`^(?:last|past) (\d{1,3}) days$`)

	// Longest phrases first so "last month" wins over "month".
	datePhraseRe = regexp.MustCompile(`(?i)\b(today|yesterday|last week|this week|this month|last month|this year|last year|(?:last|past) \d{1,3} days|\d{4}-\d{2}-\d{2}|\d{4}-\d{2})\b`)
)

// ParseRelativeDateRange resolves a date phrase against ref. Weeks start on
// Monday. Unrecognized phrases return nil, meaning no date constraint.
func ParseRelativeDateRange(phrase string, ref time.Time) *domain.DateRange {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	today := startOfDay(ref)

	switch p {
	case "today":
		return dayRange(today, today)
	case "yesterday":
		y := today.AddDate(0, 0, -1)
		return dayRange(y, y)
	case "this week":
		monday := startOfWeek(today)
		return dayRange(monday, monday.AddDate(0, 0, 6))
	case "last week":
		monday := startOfWeek(today).AddDate(0, 0, -7)
		return dayRange(monday, monday.AddDate(0, 0, 6))
	case "this month":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return dayRange(first, first.AddDate(0, 1, -1))
	case "last month":
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()).AddDate(0, -1, 0)
		return dayRange(first, first.AddDate(0, 1, -1))
	case "this year":
		first := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location())
		return dayRange(first, first.AddDate(1, 0, -1))
	case "last year":
		first := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, today.Location())
		return dayRange(first, first.AddDate(1, 0, -1))
	}

	if m := lastNDaysRe.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return nil
		}
		return dayRange(today.AddDate(0, 0, -(n-1)), today)
	}

	if m := isoDayRe.FindStringSubmatch(p); m != nil {
		day, err := time.ParseInLocation("2006-01-02", p, today.Location())
		if err != nil {
			return nil
		}
		return dayRange(day, day)
	}

	if m := isoMonthRe.FindStringSubmatch(p); m != nil {
		first, err := time.ParseInLocation("2006-01", p, today.Location())
		if err != nil {
			return nil
		}
		return dayRange(first, first.AddDate(0, 1, -1))
	}
	return nil
}

// FindDateRange resolves the first date phrase found anywhere in text.
func FindDateRange(text string, ref time.Time) (*domain.DateRange, string) {
	for _, m := range datePhraseRe.FindAllString(text, -1) {
		if r := ParseRelativeDateRange(m, ref); r != nil {
			return r, strings.ToLower(m)
		}
	}
	return nil, ""
}

func dayRange(start, end time.Time) *domain.DateRange {
	return &domain.DateRange{Start: start, End: end}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
