// Package jid converts legacy identifiers into protocol-safe local keys.
//
// The default transcoder applies XEP-0106 escaping and then checks the
// result against the PRECIS UsernameCasePreserved profile, so every key it
// produces is a valid localpart and every key it accepts decodes to exactly
// one legacy id.
package jid

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/secure/precis"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// MaxLocalpartBytes is the RFC 7622 upper bound for a localpart.
const MaxLocalpartBytes = 1023

// Transcoder converts between legacy ids and local keys.
// Implementations must satisfy Decode(Encode(x)) == x for every x that
// Encode accepts.
type Transcoder interface {
	Encode(legacyID string) (string, error)
	Decode(localKey string) (string, error)
}

// Funcs adapts a pair of functions to the Transcoder interface.
type Funcs struct {
	EncodeFunc func(legacyID string) (string, error)
	DecodeFunc func(localKey string) (string, error)
}

func (f Funcs) Encode(legacyID string) (string, error) { return f.EncodeFunc(legacyID) }
func (f Funcs) Decode(localKey string) (string, error) { return f.DecodeFunc(localKey) }

// Escaping is the XEP-0106 transcoder.
type Escaping struct{}

var _ Transcoder = Escaping{}

var escapeSeq = map[rune]string{
	' ':  `\20`,
	'"':  `\22`,
	'&':  `\26`,
	'\'': `\27`,
	'/':  `\2f`,
	':':  `\3a`,
	'<':  `\3c`,
	'>':  `\3e`,
	'@':  `\40`,
	'\\': `\5c`,
}

var unescapeSeq = func() map[string]rune {
	m := make(map[string]rune, len(escapeSeq))
	for r, seq := range escapeSeq {
		m[seq[1:]] = r
	}
	return m
}()

// Encode escapes legacyID into a local key.
func (Escaping) Encode(legacyID string) (string, error) {
	if legacyID == "" {
		return "", model.NewValidationError("empty legacy id", legacyID)
	}
	if !utf8.ValidString(legacyID) {
		return "", model.NewValidationError("legacy id is not valid UTF-8", legacyID)
	}

	var b strings.Builder
	b.Grow(len(legacyID))
	for _, r := range legacyID {
		if seq, ok := escapeSeq[r]; ok {
			b.WriteString(seq)
			continue
		}
		b.WriteRune(r)
	}
	key := b.String()

	// XEP-0106: an escaped space may not start or end a localpart.
	if strings.HasPrefix(key, `\20`) || strings.HasSuffix(key, `\20`) {
		return "", model.NewValidationError("legacy id has leading or trailing space", legacyID)
	}
	if len(key) > MaxLocalpartBytes {
		return "", model.NewValidationError("local key too long", legacyID)
	}
	enforced, err := precis.UsernameCasePreserved.String(key)
	if err != nil {
		return "", &model.Error{
			Code:    model.ErrCodeValidation,
			Message: "legacy id cannot form a localpart",
			Key:     legacyID,
			Err:     err,
		}
	}
	if enforced != key {
		return "", model.NewValidationError("legacy id is not stable under localpart normalization", legacyID)
	}
	return key, nil
}

// Decode reverses Encode. Keys that are not in the exact form Encode would
// produce (unknown or uppercase escapes, raw forbidden characters) are
// rejected, so two distinct keys never map to the same legacy id.
func (e Escaping) Decode(localKey string) (string, error) {
	if localKey == "" {
		return "", model.NewValidationError("empty local key", localKey)
	}

	var b strings.Builder
	b.Grow(len(localKey))
	for i := 0; i < len(localKey); i++ {
		c := localKey[i]
		if c == '\\' && i+2 < len(localKey) {
			if r, ok := unescapeSeq[localKey[i+1:i+3]]; ok {
				b.WriteRune(r)
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	legacyID := b.String()

	canonical, err := e.Encode(legacyID)
	if err != nil {
		return "", err
	}
	if canonical != localKey {
		return "", model.NewValidationError("local key is not canonically escaped", localKey)
	}
	return legacyID, nil
}
