// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-backend/internal/i18n"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("lang", parseLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// parseLanguage picks the first preference from a header such as
// "zh-TW,zh;q=0.9,en;q=0.8".
func parseLanguage(header string) string {
	if header == "" {
		return "en"
	}
	first := strings.TrimSpace(strings.Split(strings.Split(header, ",")[0], ";")[0])
	switch first {
	case "zh-Hant", "zh-HK":
		first = "zh_TW"
	}
	first = strings.ReplaceAll(first, "-", "_")

	for _, lang := range i18n.GetSupportedLanguages() {
		if strings.EqualFold(lang, first) {
			return lang
		}
	}
	return "en"
}
