package auth

import (
	"crypto/rand"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/hengadev/errsx"

	"github.com/dmitrijs2005/clinicguard/internal/cryptox"
)

const MinPasswordLength = 8

// commonPasswords are rejected regardless of complexity.
var commonPasswords = map[string]struct{}{
	"password":  {},
	"123456":    {},
	"12345678":  {},
	"123456789": {},
	"qwerty":    {},
	"abc123":    {},
	"password1": {},
	"admin":     {},
	"letmein":   {},
	"welcome":   {},
}

// Letters (including Latin-1 accents), apostrophes, hyphens and dots, up to
// five space-separated parts.
var namePattern = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ'’\-.]+(?:[ \t]+[A-Za-zÀ-ÖØ-öø-ÿ'’\-.]+){0,4}$`)

// CheckPassword reports the first rule pw violates, or "" when it passes.
func CheckPassword(pw string) string {
	if len([]rune(pw)) < MinPasswordLength {
		return "Password must be at least 8 characters long."
	}

	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	if !(lower && upper && digit && special) {
		return "Password must include Upper/Lowercase, a Number and a Special Character."
	}

	if _, ok := commonPasswords[strings.ToLower(pw)]; ok {
		return "That password is too common. Choose something harder to guess."
	}
	return ""
}

// ValidateName checks a person's display name.
func ValidateName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Name is required"
	}
	if !namePattern.MatchString(strings.TrimSpace(name)) {
		return "Please enter a valid name"
	}
	return ""
}

// ValidateEmail accepts a bare address only, no display name.
func ValidateEmail(email string) string {
	if email == "" {
		return "Email is required"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "Please enter a valid email address"
	}
	return ""
}

func setIf(m *errsx.Map, field, msg string) {
	if msg != "" {
		m.Set(field, msg)
	}
}

// HashPassword hashes with the default argon2id parameters.
func HashPassword(pw string) string {
	return cryptox.HashPassword(pw, cryptox.DefaultArgon2Params)
}

// VerifyPassword checks pw against an argon2id PHC hash.
func VerifyPassword(encoded, pw string) (bool, error) {
	return cryptox.VerifyPassword(encoded, pw)
}

const (
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*-_+=?"
)

// GeneratePassword returns a random password of length n (at least 4) that
// satisfies CheckPassword.
func GeneratePassword(n int) (string, error) {
	if n < 4 {
		n = 4
	}
	all := lowerChars + upperChars + digitChars + specialChars

	for {
		out := make([]byte, n)
		sets := []string{lowerChars, upperChars, digitChars, specialChars}
		for i := range out {
			set := all
			if i < len(sets) {
				set = sets[i]
			}
			c, err := pick(set)
			if err != nil {
				return "", err
			}
			out[i] = c
		}
		if err := shuffle(out); err != nil {
			return "", err
		}
		if pw := string(out); n < MinPasswordLength || CheckPassword(pw) == "" {
			return pw, nil
		}
	}
}

func pick(set string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[i.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}
