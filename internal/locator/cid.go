package locator

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 (raw codec, sha2-256) of payload. Backends
// without a native addressing scheme use it as the locator, which makes
// uploads idempotent by construction.
func ContentID(payload []byte) (string, error) {
	sum, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// ValidateContentID accepts only CIDs produced by ContentID.
func ValidateContentID(loc string) error {
	c, err := cid.Decode(loc)
	if err != nil {
		return err
	}
	if c.Version() != 1 || c.Type() != cid.Raw {
		return fmt.Errorf("unsupported cid %s", c)
	}
	if c.Prefix().MhType != mh.SHA2_256 {
		return fmt.Errorf("unsupported hash in %s", c)
	}
	return nil
}

// VerifyContentID reports whether payload hashes to loc.
func VerifyContentID(loc string, payload []byte) bool {
	got, err := ContentID(payload)
	return err == nil && got == loc
}
