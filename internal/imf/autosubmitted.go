package imf

import (
	"strings"

	"github.com/emersion/go-message/textproto"
)

// AutoSubmitted reports whether header carries an RFC 3834 Auto-Submitted
// field whose value is anything other than "no" (its default), i.e. whether
// the message is a bounce, vacation reply, or other automated response that
// must not itself trigger further automated replies (DSNs included).
func AutoSubmitted(header textproto.Header) bool {
	v := header.Get("Auto-Submitted")
	if v == "" {
		return false
	}
	val := strings.TrimSpace(strings.SplitN(v, ";", 2)[0])
	return !strings.EqualFold(val, "no")
}
