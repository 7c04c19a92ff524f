package lang

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Character hints to disambiguate Chinese variants.
var (
	simplifiedHintChars  = map[rune]struct{}{}
	traditionalHintChars = map[rune]struct{}{}
)

func init() {
	for _, r := range "这来时个们为国发对说会后现没动过种里实点开样关么还当两经气从业" {
		simplifiedHintChars[r] = struct{}{}
	}
	for _, r := range "這來時個們為國發對說會後現沒動過種裡實點開樣關麼還當兩經氣從業" {
		traditionalHintChars[r] = struct{}{}
	}
}

var whatlangCodes = map[whatlanggo.Lang]string{
	whatlanggo.Kor: "ko",
	whatlanggo.Jpn: "ja",
	whatlanggo.Cmn: "zh",
	whatlanggo.Eng: "en",
	whatlanggo.Spa: "es",
	whatlanggo.Fra: "fr",
	whatlanggo.Deu: "de",
	whatlanggo.Rus: "ru",
	whatlanggo.Por: "pt",
	whatlanggo.Ita: "it",
	whatlanggo.Vie: "vi",
	whatlanggo.Tha: "th",
	whatlanggo.Arb: "ar",
	whatlanggo.Hin: "hi",
	whatlanggo.Ind: "id",
	whatlanggo.Nld: "nl",
	whatlanggo.Pol: "pl",
	whatlanggo.Tur: "tr",
	whatlanggo.Ukr: "uk",
	whatlanggo.Swe: "sv",
	whatlanggo.Ces: "cs",
	whatlanggo.Dan: "da",
	whatlanggo.Fin: "fi",
	whatlanggo.Ell: "el",
	whatlanggo.Hun: "hu",
	whatlanggo.Ron: "ro",
	whatlanggo.Bul: "bg",
	whatlanggo.Heb: "he",
	whatlanggo.Urd: "ur",
	whatlanggo.Pes: "fa",
	whatlanggo.Ben: "bn",
	whatlanggo.Tam: "ta",
	whatlanggo.Tel: "te",
	whatlanggo.Mar: "mr",
	whatlanggo.Lit: "lt",
	whatlanggo.Lav: "lv",
	whatlanggo.Est: "et",
	whatlanggo.Slv: "sl",
	whatlanggo.Hrv: "hr",
	whatlanggo.Afr: "af",
}

// Detect guesses the language of a text sample. Returns Auto when no
// confident guess can be made. Mandarin is refined to zh-cn/zh-tw using
// character hints when one variant clearly dominates.
func Detect(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return Auto
	}

	info := whatlanggo.Detect(sample)
	code, ok := whatlangCodes[info.Lang]
	if !ok || !info.IsReliable() {
		return Auto
	}
	if code == "zh" {
		return refineChinese(sample)
	}
	return code
}

func refineChinese(text string) string {
	var simplified, traditional int
	for _, r := range text {
		if _, ok := simplifiedHintChars[r]; ok {
			simplified++
		}
		if _, ok := traditionalHintChars[r]; ok {
			traditional++
		}
	}
	switch {
	case traditional > simplified:
		return "zh-tw"
	case simplified > traditional:
		return "zh-cn"
	default:
		return "zh"
	}
}
