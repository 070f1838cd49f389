package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"jobbot/internal/posting"
	"jobbot/internal/transport"
)

const fallbackApplyLink = "https://employmentnews.gov.in"

const rule = "━━━━━━━━━━━━━━━━━━━━"

// PostingMessage renders p for a channel or chat: the full notice card plus
// Apply, Details, Dates and Help buttons.
func PostingMessage(p posting.Posting, channelUsername string) transport.Message {
	return transport.Message{
		Text:           postingCard(p, channelUsername),
		ParseMode:      "HTML",
		DisablePreview: true,
		Actions:        postingActions(p),
	}
}

func postingCard(p posting.Posting, channelUsername string) string {
	var b strings.Builder
	b.WriteString(rule + "\n🚨 <b>GOVERNMENT JOB ALERT</b>\n" + rule + "\n\n")
	fmt.Fprintf(&b, "📌 <b>%s</b>\n\n", esc(p.Title))
	fmt.Fprintf(&b, "🏢 Organization: %s\n\n", esc(orDefault(p.Organization, posting.DefaultOrganization)))

	b.WriteString("<b>📅 Important dates</b>\n")
	fmt.Fprintf(&b, "• Notification date: %s\n", esc(dateOnly(p.PostDate)))
	fmt.Fprintf(&b, "• Last date to apply: %s\n\n", esc(orDefault(p.LastDate, posting.DefaultLastDate)))

	b.WriteString("<b>🎓 Eligibility</b>\n")
	fmt.Fprintf(&b, "• Qualification: %s\n", esc(orDefault(p.Qualification, posting.DefaultQualification)))
	b.WriteString("• Age limit: check official notification\n\n")

	b.WriteString("<b>👥 Post details</b>\n")
	fmt.Fprintf(&b, "• Location: %s\n\n", esc(orDefault(p.Location, posting.DefaultLocation)))

	b.WriteString(rule + "\n🔗 <b>Links</b>\n")
	fmt.Fprintf(&b, "• Notification: %s\n", linkOr(p.NotificationLink, "check source"))
	fmt.Fprintf(&b, "• Apply online: %s\n", linkOr(p.ApplyLink, "check source"))
	b.WriteString(rule + "\n")
	if channelUsername != "" {
		fmt.Fprintf(&b, "📢 Join: %s\n", esc(channelUsername))
	}
	if p.Source != "" {
		fmt.Fprintf(&b, "🏷️ Source: %s\n", esc(p.Source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func postingActions(p posting.Posting) [][]transport.Action {
	id := strconv.FormatInt(p.ID, 10)
	rows := [][]transport.Action{
		{{Text: "🚀 APPLY NOW", URL: orDefault(p.ApplyLink, fallbackApplyLink)}},
	}
	if p.ID > 0 {
		rows = append(rows, []transport.Action{
			{Text: "📋 DETAILS", Data: "details_" + id},
			{Text: "📅 DATES", Data: "dates_" + id},
		})
	}
	return append(rows, []transport.Action{{Text: "🤖 BOT HELP", Data: "help"}})
}

// DetailsText is the reply to a details button.
func DetailsText(p posting.Posting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>%s</b>\n\n", esc(p.Title))
	fmt.Fprintf(&b, "🏢 %s\n", esc(orDefault(p.Organization, posting.DefaultOrganization)))
	fmt.Fprintf(&b, "🎓 %s\n", esc(orDefault(p.Qualification, posting.DefaultQualification)))
	fmt.Fprintf(&b, "📍 %s\n", esc(orDefault(p.Location, posting.DefaultLocation)))
	if s := strings.TrimSpace(p.Summary); s != "" && s != p.Title {
		fmt.Fprintf(&b, "\n%s\n", esc(s))
	}
	fmt.Fprintf(&b, "\n🔗 %s", linkOr(p.NotificationLink, "check source"))
	return b.String()
}

// DatesText is the reply to a dates button.
func DatesText(p posting.Posting) string {
	return fmt.Sprintf("📅 <b>%s</b>\n\n• Notification date: %s\n• Last date to apply: %s",
		esc(p.Title), esc(dateOnly(p.PostDate)), esc(orDefault(p.LastDate, posting.DefaultLastDate)))
}

// dateOnly keeps the date part of an RFC 3339 timestamp.
func dateOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Recent"
	}
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}

func linkOr(u, def string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return def
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, esc(u), esc(u))
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func esc(s string) string { return html.EscapeString(s) }
