package services

import (
	"fmt"
	"html/template"
	"strings"
)

type emailMetaItem struct {
	Label string
	Value string
}

type emailContent struct {
	Subject    string
	Paragraphs []string
	Meta       []emailMetaItem
	ButtonText string
	ButtonURL  string
	Footer     string
}

// render builds the HTML body shared by every notification mail. All text is
// escaped; paragraphs keep their line breaks.
func (c emailContent) render() string {
	var body strings.Builder
	for _, paragraph := range c.Paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}
		escaped := template.HTMLEscapeString(trimmed)
		escaped = strings.ReplaceAll(strings.ReplaceAll(escaped, "\r\n", "\n"), "\r", "\n")
		escaped = strings.ReplaceAll(escaped, "\n", "<br />")
		body.WriteString(`<p style="margin:0 0 18px 0;line-height:1.7;word-break:break-word;">`)
		body.WriteString(escaped)
		body.WriteString(`</p>`)
	}

	metaSection := ""
	rows := make([]emailMetaItem, 0, len(c.Meta))
	for _, item := range c.Meta {
		label := strings.TrimSpace(item.Label)
		value := strings.TrimSpace(item.Value)
		if label == "" || value == "" {
			continue
		}
		rows = append(rows, emailMetaItem{Label: label, Value: value})
	}
	if len(rows) > 0 {
		var meta strings.Builder
		meta.WriteString(`<table role="presentation" cellpadding="0" cellspacing="0" width="100%" style="margin:0 0 24px 0;border:1px solid #e5e7eb;border-radius:12px;background-color:#f9fafb;"><tbody>`)
		for i, row := range rows {
			border := "border-bottom:1px solid #e5e7eb;"
			if i == len(rows)-1 {
				border = ""
			}
			meta.WriteString(fmt.Sprintf(`<tr><td style="padding:12px 16px;font-size:13px;color:#6b7280;width:38%%;%s">%s</td><td style="padding:12px 16px;font-size:15px;color:#111827;font-weight:600;%s">%s</td></tr>`,
				border, template.HTMLEscapeString(row.Label), border, template.HTMLEscapeString(row.Value)))
		}
		meta.WriteString(`</tbody></table>`)
		metaSection = meta.String()
	}

	buttonSection := ""
	if strings.TrimSpace(c.ButtonText) != "" && strings.TrimSpace(c.ButtonURL) != "" {
		buttonSection = fmt.Sprintf(`<div style="text-align:center;margin:12px 0 24px 0;"><a href="%s" style="display:inline-block;padding:12px 28px;background-color:#ec3750;color:#ffffff;text-decoration:none;border-radius:999px;font-weight:600;">%s</a></div>`,
			template.HTMLEscapeString(c.ButtonURL), template.HTMLEscapeString(c.ButtonText))
	}

	footerSection := ""
	if strings.TrimSpace(c.Footer) != "" {
		footerSection = fmt.Sprintf(`<div style="color:#6b7280;font-size:13px;line-height:1.7;">%s</div>`,
			template.HTMLEscapeString(c.Footer))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
</head>
<body style="margin:0;padding:0;background-color:#f9fafb;font-family:'Segoe UI',Tahoma,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 20px;">
<div style="background-color:#ffffff;border:1px solid #e5e7eb;border-radius:12px;padding:24px;">
<h1 style="margin:0;font-size:22px;font-weight:700;color:#111827;line-height:1.35;">%s</h1>
<div style="margin-top:20px;color:#1f2937;font-size:16px;line-height:1.75;">
%s
</div>
%s
%s
%s
</div>
</div>
</body>
</html>`, template.HTMLEscapeString(c.Subject), template.HTMLEscapeString(c.Subject), body.String(), metaSection, buttonSection, footerSection)
}
