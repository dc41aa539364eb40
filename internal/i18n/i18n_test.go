package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English}, // fallback
		{"", language.English},
	}

	for _, tt := range tests {
		got := MatchLanguage(tt.accept)
		base, _ := got.Base()
		exp, _ := tt.expected.Base()
		assert.Equal(t, exp, base, "accept: %s", tt.accept)
	}
}

func TestLocaleFromEnv(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "de-DE", LocaleFromEnv())

	t.Setenv("LC_ALL", "en_GB.UTF-8")
	assert.Equal(t, "en-GB", LocaleFromEnv(), "LC_ALL wins over LANG")

	t.Setenv("LC_ALL", "C")
	assert.Equal(t, "", LocaleFromEnv())
}

func TestNewCLIPrinter_GroupsDigits(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "en_US.UTF-8")
	assert.Equal(t, "12,345", NewCLIPrinter().Sprintf("%d", 12345))

	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "12.345", NewCLIPrinter().Sprintf("%d", 12345))

	t.Setenv("LANG", "")
	assert.NotNil(t, NewCLIPrinter())
}
