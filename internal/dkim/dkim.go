// Package dkim wraps github.com/emersion/go-msgauth/dkim — the library the
// teacher signs and verifies with in internal/modify/dkim and
// internal/check/dkim — behind a small Sign/Verify surface driven by an
// explicit state machine (None -> Parsed -> Verified|Failed) instead of the
// teacher's config-driven modifier/check plugin pair.
package dkim

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-msgauth/dkim"
)

// State is a signature's position in the verification state machine.
type State int

const (
	None State = iota
	Parsed
	Verified
	Failed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Parsed:
		return "parsed"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Canonicalization re-exports the go-msgauth canonicalization constants so
// callers never need to import that package directly.
type Canonicalization = dkim.Canonicalization

const (
	CanonicalizationSimple  = dkim.CanonicalizationSimple
	CanonicalizationRelaxed = dkim.CanonicalizationRelaxed
)

// oversignDefault/signDefault are the teacher's own default header lists
// (internal/modify/dkim/dkim.go), reused verbatim: oversigned fields are
// listed in HeaderKeys twice so a second occurrence injected downstream
// would break the signature; sign-once fields are listed a single time.
var (
	oversignDefault = []string{
		"Subject", "Sender", "To", "Cc", "From", "Date",
		"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
		"Reply-To", "In-Reply-To", "Message-Id", "References",
	}
	signDefault = []string{
		"List-Id", "List-Help", "List-Unsubscribe", "List-Post", "List-Owner", "List-Archive",
		"Resent-To", "Resent-Sender", "Resent-Message-Id", "Resent-Date", "Resent-From", "Resent-Cc",
	}
)

// SignConfig configures Sign. Domain/Selector/Signer are required; the rest
// fall back to the teacher's defaults.
type SignConfig struct {
	Domain   string
	Selector string
	Signer   crypto.Signer
	Hash     crypto.Hash // defaults to crypto.SHA256

	HeaderCanonicalization Canonicalization // defaults to relaxed
	BodyCanonicalization   Canonicalization // defaults to relaxed

	OversignHeader []string // defaults to oversignDefault
	SignHeader     []string // defaults to signDefault

	Expiry time.Duration // 0 disables expiration
}

// fieldsToSign builds the HeaderKeys list go-msgauth's signer wants:
// oversigned fields once per occurrence present plus once more to
// "oversign" them, sign-once fields once per occurrence — ported from
// internal/modify/dkim/dkim.go's fieldsToSign.
func fieldsToSign(h *textproto.Header, oversign, sign []string) []string {
	seen := make(map[string]struct{})
	res := make([]string, 0, len(oversign)+len(sign))

	for _, key := range oversign {
		lk := strings.ToLower(key)
		if _, ok := seen[lk]; ok {
			continue
		}
		seen[lk] = struct{}{}
		for f := h.FieldsByKey(key); f.Next(); {
			res = append(res, key)
		}
		res = append(res, key)
	}
	for _, key := range sign {
		lk := strings.ToLower(key)
		if _, ok := seen[lk]; ok {
			continue
		}
		seen[lk] = struct{}{}
		for f := h.FieldsByKey(key); f.Next(); {
			res = append(res, key)
		}
	}
	return res
}

// Sign signs header+body under cfg and adds the resulting
// "DKIM-Signature" field to header in place, at the top of the header
// (textproto.Header.AddRaw places a new field first).
func Sign(cfg SignConfig, header *textproto.Header, body []byte) error {
	if cfg.Signer == nil {
		return fmt.Errorf("dkim: Sign: no signing key configured")
	}
	hash := cfg.Hash
	if hash == 0 {
		hash = crypto.SHA256
	}
	headerCanon := cfg.HeaderCanonicalization
	if headerCanon == "" {
		headerCanon = CanonicalizationRelaxed
	}
	bodyCanon := cfg.BodyCanonicalization
	if bodyCanon == "" {
		bodyCanon = CanonicalizationRelaxed
	}
	oversign := cfg.OversignHeader
	if oversign == nil {
		oversign = oversignDefault
	}
	sign := cfg.SignHeader
	if sign == nil {
		sign = signDefault
	}

	opts := dkim.SignOptions{
		Domain:                 cfg.Domain,
		Selector:               cfg.Selector,
		Identifier:             "@" + cfg.Domain,
		Signer:                 cfg.Signer,
		Hash:                   hash,
		HeaderCanonicalization: headerCanon,
		BodyCanonicalization:   bodyCanon,
		HeaderKeys:             fieldsToSign(header, oversign, sign),
	}
	if cfg.Expiry != 0 {
		opts.Expiration = time.Now().Add(cfg.Expiry)
	}

	signer, err := dkim.NewSigner(&opts)
	if err != nil {
		return fmt.Errorf("dkim: %w", err)
	}
	if err := textproto.WriteHeader(signer, *header); err != nil {
		signer.Close()
		return fmt.Errorf("dkim: %w", err)
	}
	if _, err := signer.Write(body); err != nil {
		signer.Close()
		return fmt.Errorf("dkim: %w", err)
	}
	if err := signer.Close(); err != nil {
		return fmt.Errorf("dkim: %w", err)
	}

	header.AddRaw([]byte(signer.Signature()))
	return nil
}

// Result is the outcome of verifying one DKIM-Signature field.
type Result struct {
	State      State
	Domain     string
	Identifier string
	HeaderKeys []string
	Err        error
	TempFail   bool
	PermFail   bool
}

// Verify verifies every DKIM-Signature field present in header against
// body, resolving public keys via lookupTXT (normally dns.Resolver.LookupTXT
// injected by the caller so tests can fake DNS). If header has no
// DKIM-Signature field at all, it returns a single Result{State: None}.
func Verify(header textproto.Header, body []byte, lookupTXT func(domain string) ([]string, error)) ([]Result, error) {
	if !header.Has("DKIM-Signature") {
		return []Result{{State: None}}, nil
	}

	var headerBuf bytes.Buffer
	if err := textproto.WriteHeader(&headerBuf, header); err != nil {
		return nil, fmt.Errorf("dkim: %w", err)
	}

	verifications, err := dkim.VerifyWithOptions(
		io.MultiReader(&headerBuf, bytes.NewReader(body)),
		&dkim.VerifyOptions{LookupTXT: lookupTXT},
	)
	if err != nil {
		return nil, fmt.Errorf("dkim: %w", err)
	}

	results := make([]Result, 0, len(verifications))
	for _, v := range verifications {
		r := Result{
			State:      Verified,
			Domain:     v.Domain,
			Identifier: v.Identifier,
			HeaderKeys: v.HeaderKeys,
		}
		if v.Err != nil {
			r.State = Failed
			r.Err = v.Err
			r.PermFail = dkim.IsPermFail(v.Err)
			r.TempFail = dkim.IsTempFail(v.Err)
		}
		results = append(results, r)
	}
	return results, nil
}

// RequiredFieldsSigned reports whether every field in required was covered
// by r's signature, per check.dkim's "some header fields are not signed"
// policy check.
func RequiredFieldsSigned(r Result, required []string) bool {
	signed := make(map[string]struct{}, len(r.HeaderKeys))
	for _, k := range r.HeaderKeys {
		signed[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range required {
		if _, ok := signed[strings.ToLower(k)]; !ok {
			return false
		}
	}
	return true
}
