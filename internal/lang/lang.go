// Package lang validates and labels translation language codes and
// detects the source language of sampled document text.
package lang

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Auto is the pseudo-code for automatic source language detection.
const Auto = "auto"

var names = map[string]string{
	"auto": "Auto Detect", "ko": "Korean", "en": "English", "zh": "Chinese",
	"zh-cn": "Chinese (Simplified)", "zh-tw": "Chinese (Traditional)",
	"ja": "Japanese", "es": "Spanish", "fr": "French", "de": "German",
	"ru": "Russian", "pt": "Portuguese", "it": "Italian", "vi": "Vietnamese",
	"th": "Thai", "ar": "Arabic", "hi": "Hindi", "id": "Indonesian",
	"nl": "Dutch", "pl": "Polish", "tr": "Turkish", "uk": "Ukrainian",
	"sv": "Swedish", "cs": "Czech", "da": "Danish", "fi": "Finnish",
	"el": "Greek", "hu": "Hungarian", "no": "Norwegian", "ro": "Romanian",
	"bg": "Bulgarian", "hr": "Croatian", "sk": "Slovak", "sl": "Slovenian",
	"lt": "Lithuanian", "lv": "Latvian", "et": "Estonian",
	"ms": "Malay", "tl": "Filipino", "bn": "Bengali", "ta": "Tamil",
	"te": "Telugu", "mr": "Marathi", "ur": "Urdu", "fa": "Persian",
	"he": "Hebrew", "sw": "Swahili", "af": "Afrikaans",
}

// Country codes users commonly type instead of language codes.
var corrections = map[string]string{
	"kr": "ko",
	"jp": "ja",
	"cn": "zh",
	"tw": "zh-tw",
	"gb": "en",
	"us": "en",
	"br": "pt",
	"mx": "es",
}

// Label returns "code (Name)" if the code is known, otherwise the code.
func Label(code string) string {
	if name, ok := names[code]; ok {
		return fmt.Sprintf("%s (%s)", code, name)
	}
	return code
}

// Validate checks a language code and returns its canonical lowercase
// form. Country codes are rejected with a hint naming the language code
// the user probably meant.
func Validate(code string) (string, error) {
	if code == Auto {
		return code, nil
	}
	lower := strings.ToLower(code)
	if _, ok := names[lower]; ok {
		return lower, nil
	}
	if correct, ok := corrections[lower]; ok {
		return "", fmt.Errorf("%q is a country code; use language code %q (%s) instead",
			code, correct, names[correct])
	}
	// Codes outside our named set are still fine if they are valid
	// BCP 47, e.g. "nb" or "ca". The backends pass them through.
	if tag, err := language.Parse(lower); err == nil {
		if base, conf := tag.Base(); conf >= language.High {
			return base.String(), nil
		}
	}
	supported := make([]string, 0, len(names))
	for k := range names {
		if k != Auto {
			supported = append(supported, k)
		}
	}
	sort.Strings(supported)
	return "", fmt.Errorf("unsupported language code %q; supported: %s",
		code, strings.Join(supported, ", "))
}
