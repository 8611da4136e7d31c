// Package i18n carries the user-facing strings for every error kind,
// with a translation-table shape ready for more locales. Locale
// detection uses github.com/cloudfoundry/jibber_jabber.
package i18n

import (
	"github.com/cloudfoundry/jibber_jabber"
	"github.com/sirupsen/logrus"

	"github.com/fingertip-dev/fingertip/internal/errs"
)

// TranslationSet is one locale's set of user-facing strings, one field
// per errs.Code plus the handful of generic strings the CLI needs
// regardless of which error fired.
type TranslationSet struct {
	StateMachineViolation string
	LockTimeout           string
	CacheCorruption       string
	FreshnessConflict     string
	StepFailure           string

	ErrorOccurred    string
	ConnectionFailed string
	RecoveryHint     string
	CleanupHint      string
	BuildingStatus   string
	ReusingStatus    string
	FinalizingStatus string
}

// Localizer resolves error codes and status strings into the detected
// locale's TranslationSet. English is used when the detected locale has no
// set of its own; fields left empty in a set are not filled from English.
type Localizer struct {
	Log *logrus.Entry
	S   TranslationSet
}

// NewLocalizer detects the user's locale via jibber_jabber and builds a
// Localizer around its TranslationSet, falling back to English when the
// locale can't be detected or has no set of its own.
func NewLocalizer(log *logrus.Entry) *Localizer {
	lang := detectLanguage(jibber_jabber.DetectLanguage)
	set, ok := translationSets[lang]
	if !ok {
		log.Debugf("no translation for language %q, falling back to English", lang)
		set = englishSet()
	}
	return &Localizer{Log: log, S: set}
}

// detectLanguage extracts the user's language from the environment,
// defaulting to "C" (treated as English) when detection fails.
func detectLanguage(langDetector func() (string, error)) string {
	if userLang, err := langDetector(); err == nil {
		return userLang
	}
	return "C"
}

// ForCode returns the user-facing message for one of the fixed error
// kinds.
func (l *Localizer) ForCode(code errs.Code) string {
	switch code {
	case errs.CodeStateMachineViolation:
		return l.S.StateMachineViolation
	case errs.CodeLockTimeout:
		return l.S.LockTimeout
	case errs.CodeCacheCorruption:
		return l.S.CacheCorruption
	case errs.CodeFreshnessConflict:
		return l.S.FreshnessConflict
	case errs.CodeStepFailure:
		return l.S.StepFailure
	default:
		return l.S.ErrorOccurred
	}
}

var translationSets = map[string]TranslationSet{
	"en": englishSet(),
}

func englishSet() TranslationSet {
	return TranslationSet{
		StateMachineViolation: "internal error: invalid machine state transition",
		LockTimeout:           "timed out waiting for another build to release the cache entry",
		CacheCorruption:       "cache entry is corrupt; run 'fingertip cleanup machines all' to recover",
		FreshnessConflict:     "a concurrent build finished first; this should not happen under correct locking",
		StepFailure:           "a build step failed",

		ErrorOccurred:    "an error occurred",
		ConnectionFailed: "connection to the backend failed; it may need to be restarted",
		RecoveryHint:     "run 'fingertip cleanup machines all' to clear the cache and retry",
		CleanupHint:      "stale entries were found; consider running 'fingertip cleanup' to reclaim space",
		BuildingStatus:   "building",
		ReusingStatus:    "reusing cached entry",
		FinalizingStatus: "finalizing",
	}
}
