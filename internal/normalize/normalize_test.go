package normalize

import (
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/sametakofficial/cachevoice/internal/config"
)

func TestNormalizeBasic(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    require.Equal(t, "hello world", Normalize("Hello, World!", cfg))
}

func TestNormalizeCaseAndPunctuationParity(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    require.Equal(t, Normalize("Hello, World!", cfg), Normalize("hello world", cfg))
}

func TestNormalizeIdempotent(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    inputs := []string{
        "Hello, World! 42 times",
        "<#1.5#> (laughs) Ça va, café?",
        "   too   much   whitespace   ",
        "ALL CAPS 007",
        "",
    }
    for _, in := range inputs {
        once := Normalize(in, cfg)
        twice := Normalize(once, cfg)
        require.Equal(t, once, twice, "normalize must be idempotent for %q", in)
    }
}

func TestNormalizeStripMinimax(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    got := Normalize("Hello <#0.5#> there (laughs) friend", cfg)
    require.NotContains(t, got, "<#")
    require.NotContains(t, got, "(laughs)")
}

func TestNormalizeDiacriticFold(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    require.Equal(t, Normalize("cafe", cfg), Normalize("café", cfg))
}

func TestNormalizeReplaceNumbers(t *testing.T) {
    cfg := config.DefaultNormalizeConfig
    require.Equal(t, Normalize("room 3", cfg), Normalize("room 42", cfg))
}

func TestNormalizeStageToggleOff(t *testing.T) {
    cfg := config.NormalizeConfig{}
    require.Equal(t, "Hello, World!", Normalize("Hello, World!", cfg))
}
