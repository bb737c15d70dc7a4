// Package wish validates wish text and builds the pre-filled message link
// that delivers it.
package wish

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLength is the longest accepted wish, in characters.
const MaxLength = 300

var (
	ErrEmpty   = errors.New("wish is empty")
	ErrTooLong = errors.New("wish is too long")
)

// Normalize trims the wish and checks its length.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return "", ErrTooLong
	}
	return text, nil
}

// Link returns the wa.me link opening a chat with phone, pre-filled with the
// wish. Non-digits are dropped from phone.
func Link(phone, text string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)

	msg := url.QueryEscape("✨ Mon vœu : " + text)
	msg = strings.ReplaceAll(msg, "+", "%20")
	return "https://wa.me/" + digits + "?text=" + msg
}
