package model

import "strings"

// DomainFilter drops internal and consumer domains from participant lists so
// that only customer domains reach classification.
type DomainFilter struct {
	// Internal domains are excluded exactly.
	Internal []string
	// Substrings exclude any domain that contains one of them.
	Substrings []string
}

// NewDomainFilter builds a filter and also excludes the owner's own domain.
func NewDomainFilter(ownerEmail string, internal, substrings []string) DomainFilter {
	f := DomainFilter{Substrings: substrings}
	for _, d := range internal {
		f.Internal = append(f.Internal, NormalizeDomain(d))
	}
	if d := EmailDomain(ownerEmail); d != "" {
		f.Internal = append(f.Internal, d)
	}
	return f
}

// Excluded reports whether domain is internal.
func (f DomainFilter) Excluded(domain string) bool {
	domain = NormalizeDomain(domain)
	for _, d := range f.Internal {
		if domain == d {
			return true
		}
	}
	for _, s := range f.Substrings {
		if s != "" && strings.Contains(domain, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// External returns the distinct external domains of emails, in first-seen
// order.
func (f DomainFilter) External(emails []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range emails {
		d := EmailDomain(e)
		if d == "" || seen[d] || f.Excluded(d) {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// EmailDomain returns the normalized domain part of an address, or "".
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return NormalizeDomain(strings.Trim(email[at+1:], "<>"))
}
