package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/tg-relay-bot/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	languages       []string
	matcher         language.Matcher
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded message files.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// The default language goes first so the matcher falls back to it.
	languages := []string{cfg.DefaultLanguage}
	for _, lang := range cfg.Languages {
		if lang != cfg.DefaultLanguage {
			languages = append(languages, lang)
		}
	}

	tags := make([]language.Tag, 0, len(languages))
	localizers := make(map[string]*i18n.Localizer, len(languages))
	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		tags = append(tags, language.Make(lang))
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		languages:       languages,
		matcher:         language.NewMatcher(tags),
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Resolve maps a Telegram language code (e.g. "en-US") to a supported language.
func (l *Localizer) Resolve(code string) string {
	if code == "" {
		return l.defaultLanguage
	}
	tag, err := language.Parse(code)
	if err != nil {
		return l.defaultLanguage
	}
	_, index, confidence := l.matcher.Match(tag)
	if confidence == language.No {
		return l.defaultLanguage
	}
	return l.languages[index]
}

// Matches reports whether text equals the message in any supported language.
// Reply keyboard buttons come back as plain text, so this is how presses are recognised.
func (l *Localizer) Matches(messageID, text string) bool {
	for _, lang := range l.languages {
		if l.Get(lang, messageID, nil) == text {
			return true
		}
	}
	return false
}

// Message IDs
const (
	MsgWelcome           = "welcome"
	MsgHelp              = "help"
	MsgUnknownCommand    = "unknown_command"
	MsgButtonGreet       = "button_greet"
	MsgButtonAsk         = "button_ask"
	MsgGreetReply        = "greet_reply"
	MsgAskReply          = "ask_reply"
	MsgProcessing        = "processing"
	MsgPleaseWait        = "please_wait"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgInvalidInput      = "invalid_input"
	MsgErrorTimeout      = "error_timeout"
	MsgErrorBackend      = "error_backend"
	MsgErrorUnknown      = "error_unknown"
)
