package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"jobbot/internal/posting"
)

// Organizations lists every organization label the extractor can produce.
var Organizations = []string{
	"SSC", "UPSC", "RRB", "IBPS", "NVS", "ESIC", "BECIL", "SAIL", "UPPSC", "TNPSC", "BPSC", "MPPSC",
	posting.DefaultOrganization,
}

// Qualifications lists every qualification tier the extractor can produce.
var Qualifications = []string{
	"10th Pass", "12th Pass", "Graduate", "Post Graduate", "Diploma", "ITI",
	posting.DefaultQualification,
}

var organizationRules = Rules[string]{
	KeywordRule("SSC", "SSC", "Staff Selection"),
	KeywordRule("UPSC", "UPSC", "Union Public Service"),
	KeywordRule("RRB", "RRB", "Railway", "RRC"),
	KeywordRule("IBPS", "IBPS", "Banking"),
	KeywordRule("NVS", "NVS", "Navodaya"),
	KeywordRule("ESIC", "ESIC"),
	KeywordRule("BECIL", "BECIL"),
	KeywordRule("SAIL", "SAIL"),
	KeywordRule("UPPSC", "UPPSC"),
	KeywordRule("TNPSC", "TNPSC"),
	KeywordRule("BPSC", "BPSC"),
	KeywordRule("MPPSC", "MPPSC"),
}

const datePart = `(\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})`

var lastDateRules = Rules[string]{
	RegexpRule("last_date", regexp.MustCompile(`(?i)Last Date[:\s]+`+datePart)),
	RegexpRule("apply_before", regexp.MustCompile(`(?i)Apply before[:\s]+`+datePart)),
	RegexpRule("closing_date", regexp.MustCompile(`(?i)Closing Date[:\s]+`+datePart)),
	RegexpRule("bare", regexp.MustCompile(`(\d{1,2}[-/.]\d{1,2}[-/.]\d{4})`)),
}

var qualificationRules = Rules[string]{
	KeywordRule("10th Pass", "10TH", "MATRIC", "SECONDARY", "HIGH SCHOOL"),
	KeywordRule("12th Pass", "12TH", "INTERMEDIATE", "HIGHER SECONDARY", "10+2"),
	KeywordRule("Graduate", "GRADUATE", "DEGREE", "B.A", "B.SC", "B.COM", "B.TECH"),
	KeywordRule("Post Graduate", "POST GRADUATE", "PG", "M.A", "M.SC", "M.COM", "MBA"),
	KeywordRule("Diploma", "DIPLOMA", "POLYTECHNIC"),
	KeywordRule("ITI", "ITI"),
}

// Organization resolves the issuing agency from the title, then the summary.
func Organization(title, summary string) string {
	return organizationRules.First(posting.DefaultOrganization, title, summary)
}

// LastDate returns the closing date text found in the first text that has one.
// It never invents a date.
func LastDate(texts ...string) string {
	return lastDateRules.First(posting.DefaultLastDate, texts...)
}

// Qualification resolves the minimum qualification tier.
func Qualification(texts ...string) string {
	return qualificationRules.First(posting.DefaultQualification, texts...)
}

const maxSummaryRunes = 500

// Normalize applies every extractor and default to a raw posting.
// now is used when the source did not report a publish time.
func Normalize(raw posting.RawPosting, now time.Time) posting.Posting {
	title := collapseSpace(raw.Title)
	summary := collapseSpace(raw.Summary)

	org := strings.TrimSpace(raw.Organization)
	if org == "" {
		org = Organization(title, summary)
	}
	postDate := strings.TrimSpace(raw.Published)
	if postDate == "" {
		postDate = now.Format(time.RFC3339)
	}
	link := strings.TrimSpace(raw.Link)

	return posting.Posting{
		Source:           raw.Source,
		Title:            title,
		Organization:     org,
		Qualification:    Qualification(summary, title),
		LastDate:         LastDate(summary, title),
		ApplyLink:        link,
		NotificationLink: link,
		PostDate:         postDate,
		Location:         posting.DefaultLocation,
		Summary:          TruncateRunes(summary, maxSummaryRunes),
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes cuts s to at most n runes and drops trailing space left by
// the cut.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimRightFunc(string([]rune(s)[:n]), unicode.IsSpace)
}
