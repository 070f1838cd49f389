package posting

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// FingerprintPolicy selects which fields identify a posting.
type FingerprintPolicy string

const (
	// FingerprintTitleOrg hashes title and organization.
	FingerprintTitleOrg FingerprintPolicy = "title_org"
	// FingerprintTitleOrgDate also hashes the closing date, so a re-issued
	// notice with a new deadline counts as a new posting.
	FingerprintTitleOrgDate FingerprintPolicy = "title_org_date"
)

// ParseFingerprintPolicy maps a config value to a policy. Empty means the default.
func ParseFingerprintPolicy(raw string) (FingerprintPolicy, error) {
	switch FingerprintPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FingerprintTitleOrg:
		return FingerprintTitleOrg, nil
	case FingerprintTitleOrgDate:
		return FingerprintTitleOrgDate, nil
	default:
		return "", fmt.Errorf("unknown fingerprint policy %q (want %q or %q)", raw, FingerprintTitleOrg, FingerprintTitleOrgDate)
	}
}

// Fingerprint returns the hex MD5 digest identifying p under the policy.
// The input is the plain concatenation of the selected fields.
func (pol FingerprintPolicy) Fingerprint(p Posting) string {
	in := p.Title + p.Organization
	if pol == FingerprintTitleOrgDate {
		in += p.LastDate
	}
	sum := md5.Sum([]byte(in))
	return hex.EncodeToString(sum[:])
}
