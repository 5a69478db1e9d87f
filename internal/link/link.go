// Package link builds and parses shareable redeem links:
//
//	<scheme>://<host>/redeem?id=<listing>[&ref=<referrer>]#<fragment>
//
// The fragment is base64url JSON {key, name, type}. It is the only place the
// content key travels, so a Link never prints or logs it; use Secret to read
// it and Encode only where the full link is handed to a person.
package link

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/cryptox"
	"github.com/dmitrijs2005/paylock/internal/ledger"
)

const redeemPath = "/redeem"

// Secret is the key material carried in the fragment.
type Secret struct {
	Key  cryptox.Key
	Name string
	Type string
}

type fragment struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Link is a parsed redeem link.
type Link struct {
	base      string
	ListingID ledger.ObjectID
	Referrer  ledger.Address
	secret    Secret
}

// Build creates a link under base, which is scheme://host with an optional
// path prefix.
func Build(base string, id ledger.ObjectID, secret Secret) (*Link, error) {
	b, err := normalizeBase(base)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.ParseObjectID(string(id)); err != nil {
		return nil, err
	}
	return &Link{base: b, ListingID: id, secret: secret}, nil
}

func normalizeBase(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: link base: %v", common.ErrValidation, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: link base %q needs scheme and host", common.ErrValidation, base)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: link base %q must not carry a query or fragment", common.ErrValidation, base)
	}
	return u.Scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/"), nil
}

// WithReferrer returns a copy of l tagged with a referrer.
func (l *Link) WithReferrer(addr ledger.Address) *Link {
	c := *l
	c.Referrer = addr
	return &c
}

func (l *Link) Secret() Secret { return l.secret }

// Public is the link without its fragment. It is safe to log and to send.
func (l *Link) Public() string {
	q := url.Values{}
	q.Set("id", string(l.ListingID))
	if l.Referrer != "" {
		q.Set("ref", string(l.Referrer))
	}
	return l.base + redeemPath + "?" + q.Encode()
}

// Encode renders the complete link including the secret fragment.
func (l *Link) Encode() string {
	b, _ := json.Marshal(fragment{
		Key:  cryptox.ExportKey(l.secret.Key),
		Name: l.secret.Name,
		Type: l.secret.Type,
	})
	return l.Public() + "#" + base64.RawURLEncoding.EncodeToString(b)
}

func (l *Link) String() string { return l.Public() + "#[redacted]" }

func (l *Link) LogValue() slog.Value { return slog.StringValue(l.String()) }

// Parse reads a redeem link. The fragment may use standard or URL-safe
// base64, padded or not.
func Parse(raw string) (*Link, error) {
	raw = strings.TrimSpace(raw)
	head, frag, ok := strings.Cut(raw, "#")
	if !ok || frag == "" {
		return nil, fmt.Errorf("%w: link has no key fragment", common.ErrValidation)
	}

	u, err := url.Parse(head)
	if err != nil {
		return nil, fmt.Errorf("%w: link: %v", common.ErrValidation, err)
	}
	prefix, ok := strings.CutSuffix(u.Path, redeemPath)
	if !ok {
		return nil, fmt.Errorf("%w: link path %q is not a redeem path", common.ErrValidation, u.Path)
	}
	base, err := normalizeBase(u.Scheme + "://" + u.Host + prefix)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	id, err := ledger.ParseObjectID(q.Get("id"))
	if err != nil {
		return nil, err
	}
	l := &Link{base: base, ListingID: id}
	if ref := q.Get("ref"); ref != "" {
		if l.Referrer, err = ledger.ParseAddress(ref); err != nil {
			return nil, err
		}
	}
	if l.secret, err = parseFragment(frag); err != nil {
		return nil, err
	}
	return l, nil
}

func parseFragment(s string) (Secret, error) {
	// some clients percent-encode padding
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	b, err := cryptox.DecodeBase64(s)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: key fragment encoding", common.ErrValidation)
	}
	var f fragment
	if err := json.Unmarshal(b, &f); err != nil {
		return Secret{}, fmt.Errorf("%w: key fragment is not a key record", common.ErrValidation)
	}
	if f.Key == "" {
		return Secret{}, fmt.Errorf("%w: key fragment has no key", common.ErrValidation)
	}
	key, err := cryptox.ImportKey(f.Key)
	if err != nil {
		return Secret{}, err
	}
	return Secret{Key: key, Name: f.Name, Type: f.Type}, nil
}
