package contacts

import "strings"

// localSeparators are the characters treated as token separators inside
// the local part of an address. '+' is deliberately absent: plus-tagged
// addresses stay distinct identities unless another cascade step links
// them.
const localSeparators = "._-"

// SplitRawAddress splits a raw header value of the form "Name <addr>"
// into its address and display-name parts. Both are trimmed; the
// address is lowercased. Inputs without angle brackets are treated as a
// bare address.
func SplitRawAddress(raw string) (addr, name string) {
	raw = strings.TrimSpace(raw)
	open := strings.LastIndex(raw, "<")
	close := strings.LastIndex(raw, ">")
	if open >= 0 && close > open {
		addr = raw[open+1 : close]
		name = strings.Trim(strings.TrimSpace(raw[:open]), `"`)
	} else {
		addr = raw
	}
	return strings.ToLower(strings.TrimSpace(addr)), strings.TrimSpace(name)
}

// localPart returns everything before the '@', or the whole string for
// opaque addresses without one.
func localPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// domainOf returns everything after the '@', or "" for opaque addresses.
func domainOf(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// collapseLocal removes separator characters from a local part, so
// "john.doe" and "john_doe" compare equal.
func collapseLocal(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(localSeparators, r) {
			return -1
		}
		return r
	}, s)
}

// localTokens splits a local part on separators, dropping empty tokens.
func localTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(localSeparators, r)
	})
}

// initialsForms returns the abbreviated spellings of a tokenized local
// part: the pure initialism ("jd" for john.doe) and the common
// first-initial-plus-surname form ("jdoe").
func initialsForms(tokens []string) []string {
	if len(tokens) < 2 {
		return nil
	}

	var initialism strings.Builder
	for _, tok := range tokens {
		initialism.WriteByte(tok[0])
	}

	var initialSurname strings.Builder
	for _, tok := range tokens[:len(tokens)-1] {
		initialSurname.WriteByte(tok[0])
	}
	initialSurname.WriteString(tokens[len(tokens)-1])

	return []string{initialism.String(), initialSurname.String()}
}

// SimilarLocalParts reports whether two local parts plausibly belong to
// the same person: equal after separator collapse, one contained in the
// other, or one matching an initials-derived form of the other.
func SimilarLocalParts(a, b string) bool {
	ca, cb := collapseLocal(a), collapseLocal(b)
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	if strings.Contains(ca, cb) || strings.Contains(cb, ca) {
		return true
	}
	for _, form := range initialsForms(localTokens(b)) {
		if ca == form {
			return true
		}
	}
	for _, form := range initialsForms(localTokens(a)) {
		if cb == form {
			return true
		}
	}
	return false
}
