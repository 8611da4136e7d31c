package i18n

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fingertip-dev/fingertip/internal/errs"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return log.WithField("test", true)
}

func TestForCodeCoversEveryErrorKind(t *testing.T) {
	l := &Localizer{S: englishSet()}

	codes := []errs.Code{
		errs.CodeStateMachineViolation,
		errs.CodeLockTimeout,
		errs.CodeCacheCorruption,
		errs.CodeFreshnessConflict,
		errs.CodeStepFailure,
	}
	for _, code := range codes {
		msg := l.ForCode(code)
		require.NotEmpty(t, msg, "code %s must have a non-empty message", code)
	}
}

func TestDetectLanguageFallsBackToC(t *testing.T) {
	lang := detectLanguage(func() (string, error) {
		return "", require.AnError
	})
	require.Equal(t, "C", lang)
}

func TestNewLocalizerFallsBackToEnglishForUnknownLocale(t *testing.T) {
	t.Setenv("LC_ALL", "xx_XX.UTF-8")
	t.Setenv("LANG", "xx_XX.UTF-8")
	l := NewLocalizer(testLogger())
	require.Equal(t, englishSet(), l.S)
}
