// Package imf implements the IMF/MIME/SMTP/DKIM message grammar: address
// lists, the header/body message model with trace and resent field groups,
// the MIME part tree, a hand-rolled quoted-printable codec, and RFC 3834
// Auto-Submitted detection. Address-list parsing is built directly atop
// internal/parse since nothing in the example pack hand-rolls an RFC 5322
// grammar; the message/MIME/header plumbing reuses
// github.com/emersion/go-message/textproto the same way the teacher's
// modify/check packages do.
package imf

import (
	"strings"

	"github.com/nyholt/atomicmail/internal/parse"
)

const (
	tagAddrSpec parse.Tag = iota + 1
	tagLocalPart
	tagDomain
	tagDisplayName
	tagMailbox
	tagGroup
	tagComment
)

func isWSP(r rune) bool { return r == ' ' || r == '\t' }

func isFoldWS(r rune) bool { return r == ' ' || r == '\t' || r == '\r' || r == '\n' }

// specials per RFC 5322 §3.2.3, excluded from atext.
func isSpecial(r rune) bool {
	switch r {
	case '(', ')', '<', '>', '[', ']', ':', ';', '@', '\\', ',', '.', '"':
		return true
	}
	return false
}

func isAtext(r rune) bool {
	if r <= ' ' || r > 126 {
		return false
	}
	return !isSpecial(r)
}

func isAtextOrDot(r rune) bool { return r == '.' || isAtext(r) }

func isQtext(r rune) bool {
	// qtext excludes '"', '\\', and CR.
	if r == '"' || r == '\\' || r == '\r' {
		return false
	}
	return r >= ' ' && r <= '~' || r > 126
}

func isCtext(r rune) bool {
	if r == '(' || r == ')' || r == '\\' {
		return false
	}
	return r >= ' ' && r <= '~' || r > 126
}

func isDtext(r rune) bool {
	if r == '[' || r == ']' || r == '\\' {
		return false
	}
	return r >= ' ' && r <= '~' || r > 126
}

func matchByte(b byte) parse.Parser {
	want := rune(b)
	return parse.Rune(func(r rune) bool { return r == want })
}

// quotedPair matches a backslash-escaped byte, "\X".
func quotedPair() parse.Parser {
	return parse.Req(
		parse.Step{P: matchByte('\\'), Required: true},
		parse.Step{P: parse.AnyRune(), Required: true},
	)
}

// comment matches a parenthesized RFC 5322 comment, including one level of
// nested comments (CFWS allows arbitrary nesting; one level covers every
// comment seen in practice and keeps this recursive without a forward-
// declared closure cycle deeper than that).
func comment() parse.Parser {
	nested := parse.Req(
		parse.Step{P: matchByte('('), Required: true},
		parse.Step{P: parse.Repeat(0, -1, parse.Choice(quotedPair(), parse.Rune(isCtext), parse.Rune(isFoldWS))), Required: true},
		parse.Step{P: matchByte(')'), Required: true},
	)
	return parse.Req(
		parse.Step{P: matchByte('('), Required: true},
		parse.Step{P: parse.Repeat(0, -1, parse.Choice(nested, quotedPair(), parse.Rune(isCtext), parse.Rune(isFoldWS))), Required: true},
		parse.Step{P: matchByte(')'), Required: true},
	)
}

// skipCFWS consumes any run of folding whitespace and comments. It always
// succeeds, possibly consuming nothing.
func skipCFWS() parse.Parser {
	return parse.Repeat(0, -1, parse.Choice(parse.Rune(isFoldWS), comment()))
}

func quotedString() parse.Parser {
	return parse.Req(
		parse.Step{P: matchByte('"'), Required: true},
		parse.Step{P: parse.Repeat(0, -1, parse.Choice(quotedPair(), parse.Rune(isQtext))), Required: true},
		parse.Step{P: matchByte('"'), Required: true},
	)
}

func localPart() parse.Parser {
	return parse.NewValueRule(tagLocalPart, parse.Choice(
		quotedString(),
		parse.Repeat(1, -1, parse.Rune(isAtextOrDot)),
	))
}

func domainLiteral() parse.Parser {
	return parse.Req(
		parse.Step{P: matchByte('['), Required: true},
		parse.Step{P: parse.Repeat(0, -1, parse.Choice(quotedPair(), parse.Rune(isDtext))), Required: true},
		parse.Step{P: matchByte(']'), Required: true},
	)
}

func domain() parse.Parser {
	return parse.NewValueRule(tagDomain, parse.Choice(
		domainLiteral(),
		parse.Repeat(1, -1, parse.Rune(isAtextOrDot)),
	))
}

// addrSpec matches local-part "@" domain. Its Text() span covers the whole
// addr-spec, unnormalized.
func addrSpec() parse.Parser {
	return parse.NewConstructedRule(tagAddrSpec, parse.Req(
		parse.Step{P: localPart(), Required: true},
		parse.Step{P: matchByte('@'), Required: true},
		parse.Step{P: domain(), Required: true},
	))
}

// displayName matches a run of phrase words, quoted strings, comments and
// folding whitespace, stopping naturally at the next structural delimiter
// ('<', ':', ',', ';') since none of those are in the matched sets.
func displayName() parse.Parser {
	return parse.NewValueRule(tagDisplayName, parse.Repeat(1, -1, parse.Choice(
		quotedString(),
		parse.Rune(isAtext),
		parse.Rune(isFoldWS),
		comment(),
	)))
}

func angleAddr() parse.Parser {
	return parse.Req(
		parse.Step{P: matchByte('<'), Required: true},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: addrSpec(), Required: true},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: matchByte('>'), Required: true},
	)
}

func mailbox() parse.Parser {
	nameAddr := parse.Req(
		parse.Step{P: displayName(), Required: false},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: angleAddr(), Required: true},
	)
	return parse.NewConstructedRule(tagMailbox, parse.Choice(nameAddr, addrSpec()))
}

func mailboxList() parse.Parser {
	return parse.Req(
		parse.Step{P: mailbox(), Required: true},
		parse.Step{P: parse.Repeat(0, -1, parse.Req(
			parse.Step{P: skipCFWS(), Required: true},
			parse.Step{P: matchByte(','), Required: true},
			parse.Step{P: skipCFWS(), Required: true},
			parse.Step{P: mailbox(), Required: true},
		)), Required: true},
	)
}

func group() parse.Parser {
	return parse.NewConstructedRule(tagGroup, parse.Req(
		parse.Step{P: displayName(), Required: true},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: matchByte(':'), Required: true},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: mailboxList(), Required: false},
		parse.Step{P: skipCFWS(), Required: true},
		parse.Step{P: matchByte(';'), Required: true},
	))
}

func addressEntry() parse.Parser {
	return parse.Choice(group(), mailbox())
}

// normalizeAddrSpec lower-cases the domain half of an addr-spec (domains are
// case-insensitive; the local-part is not per RFC 5321 §2.4) and strips
// nothing else — casual mode keeps quoted local-parts verbatim, quotes
// included, matching how MTAs typically re-render them.
func normalizeAddrSpec(raw string) string {
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return raw
	}
	return raw[:at+1] + strings.ToLower(raw[at+1:])
}

func walkAddrSpecs(t *parse.Tree, n *parse.Node, cb func(string)) int {
	count := 0
	if n.Type == tagAddrSpec {
		cb(normalizeAddrSpec(string(n.Text())))
		count++
	}
	for i := range n.Children {
		count += walkAddrSpecs(t, n.Child(i), cb)
	}
	return count
}

// ExtractAddressList parses a casual, comma/semicolon-tolerant address list
// (RFC 5322 address-list plus group syntax) and invokes cb with one
// normalized addr-spec per address, in source order. On a syntax error it
// stops at the furthest point reached and returns a diagnostic string
// alongside the count of addresses it managed to enumerate before giving up.
func ExtractAddressList(input []byte, cb func(addrSpec string)) (diag string, count int) {
	tree := parse.NewTree(input, 8)
	root := tree.Root()
	skipCFWS()(root)

	entry := addressEntry()
	comma := matchByte(',')
	cfws := skipCFWS()

	for entry(root) {
		count += walkAddrSpecs(tree, root.Child(len(root.Children)-1), cb)
		cfws(root)
		if !comma(root) {
			break
		}
		cfws(root)
	}

	if !root.AtEOF() {
		return parse.Error(tree).Error(), count
	}
	return "", count
}

// Mailbox is one parsed address-list entry with its display name (if any)
// and its addr-spec broken into local-part and domain — the structured form
// ExtractAddressList's plain-string callback can't give a caller that wants
// to show the breakdown.
type Mailbox struct {
	DisplayName string
	AddrSpec    string
	LocalPart   string
	Domain      string
}

func mailboxFromNode(n *parse.Node) Mailbox {
	var mb Mailbox
	for i := range n.Children {
		c := n.Child(i)
		switch c.Type {
		case tagDisplayName:
			mb.DisplayName = strings.TrimSpace(string(c.Text()))
		case tagAddrSpec:
			mb.AddrSpec = normalizeAddrSpec(string(c.Text()))
			for j := range c.Children {
				cc := c.Child(j)
				switch cc.Type {
				case tagLocalPart:
					mb.LocalPart = string(cc.Text())
				case tagDomain:
					mb.Domain = strings.ToLower(string(cc.Text()))
				}
			}
		}
	}
	return mb
}

func walkMailboxes(n *parse.Node, cb func(Mailbox)) int {
	count := 0
	if n.Type == tagMailbox {
		cb(mailboxFromNode(n))
		count++
	}
	for i := range n.Children {
		count += walkMailboxes(n.Child(i), cb)
	}
	return count
}

// ExtractMailboxes parses a casual address list the same way
// ExtractAddressList does, but returns each entry's display name and
// local-part/domain split instead of a bare normalized addr-spec —
// cmd/atomicmailctl's "addrs" subcommand needs the breakdown, not just the
// normalized string.
func ExtractMailboxes(input []byte) (mailboxes []Mailbox, diag string, count int) {
	tree := parse.NewTree(input, 8)
	root := tree.Root()
	skipCFWS()(root)

	entry := addressEntry()
	comma := matchByte(',')
	cfws := skipCFWS()

	for entry(root) {
		count += walkMailboxes(root.Child(len(root.Children)-1), func(mb Mailbox) {
			mailboxes = append(mailboxes, mb)
		})
		cfws(root)
		if !comma(root) {
			break
		}
		cfws(root)
	}

	if !root.AtEOF() {
		return mailboxes, parse.Error(tree).Error(), count
	}
	return mailboxes, "", count
}

// ParseAddrSpec parses a single strict addr-spec (no display name, no angle
// brackets, no list syntax) and returns its normalized form.
func ParseAddrSpec(input []byte) (string, error) {
	tree := parse.NewTree(input, 8)
	root := tree.Root()
	skipCFWS()(root)
	if !addrSpec()(root) {
		return "", parse.Error(tree)
	}
	skipCFWS()(root)
	if !root.AtEOF() {
		return "", parse.Error(tree)
	}
	return normalizeAddrSpec(string(root.Child(len(root.Children) - 1).Text())), nil
}
