// Package normalize implements the Normalizer (C1): a pure, deterministic,
// idempotent function turning raw request text into the canonical lookup
// key used by every other cache tier.
package normalize

import (
    "regexp"
    "strings"
    "unicode"

    "golang.org/x/text/runes"
    "golang.org/x/text/transform"
    "golang.org/x/text/unicode/norm"

    "github.com/sametakofficial/cachevoice/internal/config"
)

var (
    minimaxPauseRe  = regexp.MustCompile(`<#[0-9.]+#>`)
    minimaxInterjRe = regexp.MustCompile(`\([a-z_]+\)`)
    digitRunRe      = regexp.MustCompile(`[0-9]+`)
    whitespaceRe    = regexp.MustCompile(`\s+`)
)

// numberPlaceholder must itself survive every other stage unchanged (no
// digits, no punctuation, already lowercase) so that re-normalizing an
// already-normalized string is a no-op (P1).
const numberPlaceholder = "numberplaceholder"

// diacriticFold strips combining marks after NFD decomposition, folding
// accented Latin characters to their ASCII-adjacent base letter.
var diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize turns raw into its canonical NormalizedText form per the
// independently toggleable stages in cfg. Stages run in a fixed order so
// that later stages never consume partial fragments left by an earlier one:
// strip_minimax first, replace_numbers last.
//
// Normalize is deterministic and idempotent: Normalize(Normalize(t, cfg), cfg)
// == Normalize(t, cfg) for any input and fixed cfg (property P1).
func Normalize(text string, cfg config.NormalizeConfig) string {
    out := text

    if cfg.StripMinimax {
        out = minimaxPauseRe.ReplaceAllString(out, "")
        out = minimaxInterjRe.ReplaceAllString(out, "")
    }

    if cfg.Lowercase {
        out = strings.ToLower(out)
        if folded, _, err := transform.String(diacriticFold, out); err == nil {
            out = folded
        }
    }

    if cfg.StripPunctuation {
        out = stripPunctuation(out)
    }

    if cfg.CollapseWhitespace {
        out = whitespaceRe.ReplaceAllString(out, " ")
        out = strings.TrimSpace(out)
    }

    if cfg.ReplaceNumbers {
        out = digitRunRe.ReplaceAllString(out, numberPlaceholder)
    }

    return out
}

// stripPunctuation removes every rune in the Unicode punctuation general
// category (P*), per spec §4.1.
func stripPunctuation(s string) string {
    var b strings.Builder
    b.Grow(len(s))
    for _, r := range s {
        if unicode.IsPunct(r) {
            continue
        }
        b.WriteRune(r)
    }
    return b.String()
}
