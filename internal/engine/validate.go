package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFactRunes bounds a single fact. Facts are short sentences; anything
// longer is extraction garbage.
const MaxFactRunes = 1000

var (
	ErrEmptyFact   = errors.New("empty fact")
	ErrFactTooLong = fmt.Errorf("fact exceeds %d characters", MaxFactRunes)
)

// ValidateFact trims fact and rejects it if it is empty or too long.
func ValidateFact(fact string) (string, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return "", ErrEmptyFact
	}
	if utf8.RuneCountInString(fact) > MaxFactRunes {
		return "", ErrFactTooLong
	}
	return fact, nil
}
