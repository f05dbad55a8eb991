// Package cos provides common low-level types and utilities shared by
// host, client, and daemon.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// Alphabet for GenUUID ids, akin to
// shortid.DEFAULT_ABC (len > 0x3f, see GenTie).
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const (
	LenShortID = 9  // as per https://github.com/teris-io/shortid#id-length
	tooLongID  = 32 // cannot be smaller than any valid max length below
)

const (
	mayOnlyContain = "may only contain letters, numbers, dashes (-), underscores (_)"
	OnlyNice       = "must be at most 32 characters and " + mayOnlyContain
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// InitShortID must run once before any GenUUID call.
func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenUUID generates a short id from the shortid generator InitShortID
// set up, prefixing a letter if it starts with a non-letter and
// appending one if it ends in '-' or '_'.
func GenUUID() (uuid string) {
	var h, t string
	uuid = sid.MustGenerate()
	if !isAlpha(uuid[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	c := uuid[len(uuid)-1]
	if c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + uuid + t
}

func IsValidUUID(uuid string) bool {
	return len(uuid) >= LenShortID && IsAlphaNice(uuid)
}

// CryptoRandS generates an l-byte random identifier from crypto/rand,
// used where a UUID collision (however unlikely) would be costly to
// untangle (e.g. a fresh session id racing a just-released one).
func CryptoRandS(l int) string {
	const abc = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, l)
	rb := make([]byte, l)
	if _, err := rand.Read(rb); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i, c := range rb {
		b[i] = abc[int(c)%len(abc)]
	}
	return string(b)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice reports letters/numbers with '-'/'_' permitted except as
// the first or last character.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l > tooLongID {
		return false
	}
	for i := range l {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// GenTie is a fast 3-character tie breaker, used to disambiguate two ids
// generated within the same shortid tick.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
