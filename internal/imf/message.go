package imf

import (
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Field is one header field as classified by ParseMessage.
type Field struct {
	Name  string
	Value string
}

// ResentGroup is one *(resent-date resent-from? ...) run within a trace
// block, recording a single resend of the message.
type ResentGroup struct {
	Date      string
	From      string
	Sender    string
	To        string
	Cc        string
	Bcc       string
	MessageID string
}

// TraceGroup is one return-path? 1*received *(resent-group) block, per
// RFC 5322 §3.6.7. A message resent multiple times carries one TraceGroup
// per resend, oldest first.
type TraceGroup struct {
	ReturnPath string
	Received   []string
	Resent     []ResentGroup
}

// Message is a parsed IMF message: its trace/resent structure, main
// (body-describing) fields, optional (unrecognized but well-formed) fields,
// and invalid (malformed, preserved verbatim) fields, plus the original
// header. It holds no body.
type Message struct {
	Header   textproto.Header
	Trace    []TraceGroup
	Main     []Field
	Optional []Field
	Invalid  []Field
}

var addressFields = map[string]bool{
	"from": true, "sender": true, "reply-to": true, "to": true, "cc": true, "bcc": true,
	"resent-from": true, "resent-sender": true, "resent-to": true, "resent-cc": true, "resent-bcc": true,
}

var msgIDFields = map[string]bool{
	"message-id": true, "resent-message-id": true, "in-reply-to": true, "references": true,
}

var unstructuredMainFields = map[string]bool{
	"date": true, "resent-date": true, "subject": true, "comments": true, "keywords": true,
	"mime-version": true, "content-type": true, "content-transfer-encoding": true,
	"content-id": true, "content-description": true, "content-disposition": true,
}

// validFieldName reports whether name is a syntactically valid RFC 5322
// field-name: one or more printable US-ASCII characters excluding ':'.
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b < 33 || b > 126 || b == ':' {
			return false
		}
	}
	return true
}

func addressListValid(val string) bool {
	diag, _ := ExtractAddressList([]byte(val), func(string) {})
	return diag == ""
}

func msgIDTokenValid(tok string) bool {
	if len(tok) < 3 || tok[0] != '<' || tok[len(tok)-1] != '>' {
		return false
	}
	return strings.ContainsRune(tok[1:len(tok)-1], '@')
}

func msgIDListValid(val string) bool {
	toks := strings.Fields(val)
	if len(toks) == 0 {
		return false
	}
	for _, t := range toks {
		if !msgIDTokenValid(t) {
			return false
		}
	}
	return true
}

// classifyField buckets one header field as a known main field, an
// optional_field, or an invalid_field per the field-name and (for fields
// this package understands structurally) value syntax.
func classifyField(name, value string) (bucket string) {
	if !validFieldName(name) {
		return "invalid"
	}
	lk := strings.ToLower(name)
	switch {
	case addressFields[lk]:
		if addressListValid(value) {
			return "main"
		}
		return "invalid"
	case msgIDFields[lk]:
		if msgIDListValid(value) {
			return "main"
		}
		return "invalid"
	case unstructuredMainFields[lk]:
		return "main"
	case lk == "return-path" || lk == "received" ||
		lk == "resent-date" || lk == "resent-from" || lk == "resent-sender" ||
		lk == "resent-to" || lk == "resent-cc" || lk == "resent-bcc":
		// Handled by the trace-group state machine in ParseMessage, never
		// individually bucketed here.
		return "trace"
	default:
		return "optional"
	}
}

// ParseMessage walks header's fields in source order, building the
// trace/resent structure and bucketing every remaining field into
// Main/Optional/Invalid. No field is ever dropped.
func ParseMessage(header textproto.Header) *Message {
	m := &Message{Header: header}

	var current *TraceGroup
	flush := func() {
		if current != nil {
			m.Trace = append(m.Trace, *current)
			current = nil
		}
	}

	for f := header.Fields(); f.Next(); {
		name, value := f.Key(), f.Value()
		lk := strings.ToLower(name)

		switch lk {
		case "return-path":
			flush()
			current = &TraceGroup{ReturnPath: value}
			continue
		case "received":
			if current == nil {
				current = &TraceGroup{}
			}
			current.Received = append(current.Received, value)
			continue
		case "resent-date":
			if current == nil {
				current = &TraceGroup{}
			}
			current.Resent = append(current.Resent, ResentGroup{Date: value})
			continue
		case "resent-from", "resent-sender", "resent-to", "resent-cc", "resent-bcc", "resent-message-id":
			if current != nil && len(current.Resent) > 0 {
				rg := &current.Resent[len(current.Resent)-1]
				switch lk {
				case "resent-from":
					rg.From = value
				case "resent-sender":
					rg.Sender = value
				case "resent-to":
					rg.To = value
				case "resent-cc":
					rg.Cc = value
				case "resent-bcc":
					rg.Bcc = value
				case "resent-message-id":
					rg.MessageID = value
				}
				continue
			}
			// A resent-* field with no preceding resent-date has nowhere
			// well-formed to attach: preserve it rather than drop it.
			m.Invalid = append(m.Invalid, Field{Name: name, Value: value})
			continue
		}

		switch classifyField(name, value) {
		case "main":
			m.Main = append(m.Main, Field{Name: name, Value: value})
		case "invalid":
			m.Invalid = append(m.Invalid, Field{Name: name, Value: value})
		default:
			m.Optional = append(m.Optional, Field{Name: name, Value: value})
		}
	}
	flush()

	return m
}
