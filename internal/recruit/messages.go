package recruit

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Code is a machine-readable recruitment failure code.
type Code string

const (
	CodeInvalidTarget      Code = "INVALID_TARGET"
	CodeConditionsNotMet   Code = "CONDITIONS_NOT_MET"
	CodeNPCAlreadyDefeated Code = "NPC_ALREADY_DEFEATED"
	CodeSystemError        Code = "SYSTEM_ERROR"
)

// Message keys for successful transitions.
const (
	msgCaptured  = "RECRUIT_CAPTURED"
	msgRecruited = "RECRUIT_RECRUITED"
	msgLost      = "RECRUIT_LOST"
)

var enMessages = map[string]string{
	string(CodeInvalidTarget):      "This unit cannot be recruited.",
	string(CodeConditionsNotMet):   "Recruitment conditions were not met. The unit was defeated.",
	string(CodeNPCAlreadyDefeated): "The captured unit has already fallen.",
	string(CodeSystemError):        "Recruitment failed due to an unexpected error.",
	msgCaptured:                    "%s has been captured! Protect them until the stage is cleared.",
	msgRecruited:                   "%s joined your army.",
	msgLost:                        "%s was lost before recruitment could finish.",
}

var jaMessages = map[string]string{
	string(CodeInvalidTarget):      "このユニットは仲間にできません。",
	string(CodeConditionsNotMet):   "仲間化条件を満たしていません。ユニットは撃破されました。",
	string(CodeNPCAlreadyDefeated): "捕縛したユニットはすでに倒されています。",
	string(CodeSystemError):        "予期しないエラーにより仲間化に失敗しました。",
	msgCaptured:                    "%sを捕縛しました！ステージクリアまで守り抜いてください。",
	msgRecruited:                   "%sが仲間になりました。",
	msgLost:                        "%sは仲間になる前に倒されました。",
}

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range enMessages {
		_ = b.SetString(language.English, key, msg)
	}
	for key, msg := range jaMessages {
		_ = b.SetString(language.Japanese, key, msg)
	}
	return b
}

// Message returns the user-facing message for a code in the given language.
func Message(tag language.Tag, code Code) string {
	return message.NewPrinter(tag, message.Catalog(messages)).Sprintf(string(code))
}

func format(tag language.Tag, key string, args ...any) string {
	return message.NewPrinter(tag, message.Catalog(messages)).Sprintf(key, args...)
}
