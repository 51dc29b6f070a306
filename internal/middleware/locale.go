package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/Praxis/internal/utils"
)

const localeKey = "praxis.locale"

// Locale resolves the request locale from ?lang= or Accept-Language against
// supported and stores it on the context. No match leaves the locale empty.
func Locale(supported func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var langs []string
		if supported != nil {
			langs = supported()
		}
		locale := utils.DetermineLocale(c.Query("lang"), c.GetHeader("Accept-Language"), langs, "")
		c.Set(localeKey, locale)
		c.Next()
	}
}

func LocaleFromContext(c *gin.Context) string {
	return c.GetString(localeKey)
}
