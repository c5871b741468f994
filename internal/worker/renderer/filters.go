package renderer

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// currencyFormat formats value with locale grouping and exactly two
// decimals. "de" selects German conventions, anything else en-US.
func currencyFormat(value any, lang string) string {
	var f float64
	switch x := value.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		if _, err := fmt.Sscan(x, &f); err != nil {
			return x
		}
	default:
		return fmt.Sprint(value)
	}

	tag := language.AmericanEnglish
	if lang == "de" {
		tag = language.MustParse("de-DE")
	}
	return message.NewPrinter(tag).Sprint(number.Decimal(f, number.Scale(2)))
}

func split(s, sep string) []string {
	return strings.Split(s, sep)
}

var contextReplacer = strings.NewReplacer(
	`\`, `\letterbackslash{}`,
	`{`, `\letteropenbrace{}`,
	`}`, `\letterclosebrace{}`,
	`$`, `\letterdollar{}`,
	`&`, `\letterampersand{}`,
	`#`, `\letterhash{}`,
	`^`, `\letterhat{}`,
	`_`, `\letterunderscore{}`,
	`%`, `\letterpercent{}`,
	`~`, `\lettertilde{}`,
	`|`, `\letterbar{}`,
)

// contextEscape makes s safe to embed as text in a ConTeXt document.
func contextEscape(s string) string {
	return contextReplacer.Replace(s)
}
