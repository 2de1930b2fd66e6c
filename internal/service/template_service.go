// internal/service/template_service.go
package service

import (
	"html"
	"net/url"
	"strings"
)

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// Personalize fills the per-recipient placeholders of a newsletter body.
func Personalize(body, email, unsubscribeBaseURL string) string {
	return RenderTemplate(body, map[string]string{
		"email":           html.EscapeString(email),
		"unsubscribe_url": html.EscapeString(UnsubscribeURL(unsubscribeBaseURL, email)),
	})
}

func UnsubscribeURL(baseURL, email string) string {
	return strings.TrimRight(baseURL, "/") + "/unsubscribe?email=" + url.QueryEscape(email)
}
