package task

import "github.com/gaborage/vkflow/response"

// API error codes that have a recovery flow.
const (
	CodeAuthorizationFailed = 5
	CodeCaptchaNeeded       = 14
	CodeValidationRequired  = 17
)

// Action is what a Task does about an API error.
type Action int

const (
	ActionNone Action = iota
	ActionReauthorize
	ActionSolveCaptcha
	ActionValidateRedirect
)

func (a Action) String() string {
	switch a {
	case ActionReauthorize:
		return "reauthorize"
	case ActionSolveCaptcha:
		return "captcha"
	case ActionValidateRedirect:
		return "validate_redirect"
	default:
		return "none"
	}
}

// Recovery is the classified API error with the fields its action needs.
type Recovery struct {
	Action       Action
	CaptchaSID   string
	CaptchaImage string
	RedirectURI  string
}

// Classify maps an API error to a recovery. Captcha needs captcha_sid and
// captcha_img, validation needs redirect_uri; without them the action is none.
func Classify(err *response.APIError) Recovery {
	if err == nil {
		return Recovery{}
	}
	switch err.Code {
	case CodeAuthorizationFailed:
		return Recovery{Action: ActionReauthorize}
	case CodeCaptchaNeeded:
		sid, okSID := err.Field("captcha_sid")
		img, okImg := err.Field("captcha_img")
		if !okSID || !okImg {
			return Recovery{}
		}
		return Recovery{Action: ActionSolveCaptcha, CaptchaSID: sid, CaptchaImage: img}
	case CodeValidationRequired:
		uri, ok := err.Field("redirect_uri")
		if !ok {
			return Recovery{}
		}
		return Recovery{Action: ActionValidateRedirect, RedirectURI: uri}
	default:
		return Recovery{}
	}
}
