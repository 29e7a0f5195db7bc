package exterrors

import "fmt"

// EnhancedCode is the RFC 3463 status code, e.g. {4,4,2} for "4.4.2".
type EnhancedCode [3]int

func (c EnhancedCode) String() string {
	return fmt.Sprintf("%d.%d.%d", c[0], c[1], c[2])
}

// SMTPError is the structured equivalent of an SMTP reply: a 3-digit code,
// an enhanced status code and a human-readable message, plus whatever
// diagnostic fields the layer that produced it wants attached. It is the
// error type internal/smtpsend reports up to internal/smtpqueue so each
// SendAttemptLog carries a real reply code instead of a bare string.
type SMTPError struct {
	Code         int
	EnhancedCode EnhancedCode
	Message      string
	// TargetName identifies the component that produced the error, e.g.
	// "smtpsend" or "dkim", mirroring how maddy's errors are tagged by the
	// module that raised them.
	TargetName string
	Reason     string
	Misc       map[string]interface{}
	Err        error
}

func (e *SMTPError) Error() string {
	return fmt.Sprintf("%d %s %s", e.Code, e.EnhancedCode, e.Message)
}

func (e *SMTPError) Unwrap() error {
	return e.Err
}

func (e *SMTPError) Temporary() bool {
	return e.Code/100 == 4
}

func (e *SMTPError) Fields() map[string]interface{} {
	f := make(map[string]interface{}, len(e.Misc)+2)
	for k, v := range e.Misc {
		f[k] = v
	}
	if e.TargetName != "" {
		f["target"] = e.TargetName
	}
	if e.Reason != "" {
		f["reason"] = e.Reason
	}
	return f
}

// SMTPCode picks a 4xx/5xx code depending on whether err is considered
// temporary, for classifying errors (e.g. DNS failures) that don't already
// carry their own SMTP status.
func SMTPCode(err error, temporaryCode, permanentCode int) int {
	if IsTemporaryOrUnspec(err) {
		return temporaryCode
	}
	return permanentCode
}

// SMTPEnchCode is SMTPCode for the enhanced status code triple.
func SMTPEnchCode(err error, base EnhancedCode) EnhancedCode {
	if IsTemporaryOrUnspec(err) {
		base[0] = 4
	} else {
		base[0] = 5
	}
	return base
}
