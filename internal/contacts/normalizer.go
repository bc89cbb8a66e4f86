// Package contacts resolves raw address strings to canonical contact
// identities and maintains the per-run contact profiles derived from
// them.
package contacts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Relationship types a contact can be tagged with.
const (
	RelationshipManager      = "manager"
	RelationshipDirectReport = "direct_report"
	RelationshipClient       = "client"
	RelationshipVendor       = "vendor"
	RelationshipTeam         = "team"
	RelationshipOther        = "other"
)

var validRelationships = map[string]bool{
	RelationshipManager:      true,
	RelationshipDirectReport: true,
	RelationshipClient:       true,
	RelationshipVendor:       true,
	RelationshipTeam:         true,
	RelationshipOther:        true,
}

// Profile is the canonical identity for one person, accumulating every
// raw address variant observed for them.
type Profile struct {
	CanonicalEmail string
	DisplayName    string
	Addresses      []string // normalized variants, in observation order
	Domain         string
	IsInternal     bool
	Relationship   string
	Weight         float64
	FirstSeen      time.Time
	LastSeen       time.Time
}

// hasAddress reports whether addr is already a known variant.
func (p *Profile) hasAddress(addr string) bool {
	for _, a := range p.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Normalizer owns the address->canonical and canonical->profile maps
// for a single pipeline run. It is not safe for concurrent mutation;
// resolve every participant before handing it to downstream stages,
// which may then call Canonical concurrently.
type Normalizer struct {
	ownerDomain string
	byAddress   map[string]string   // normalized address -> canonical email
	profiles    map[string]*Profile // canonical email -> profile
	order       []string            // canonical emails in creation order
}

// New creates an empty Normalizer. ownerDomain decides the
// internal/external classification of resolved contacts.
func New(ownerDomain string) *Normalizer {
	return &Normalizer{
		ownerDomain: strings.ToLower(strings.TrimSpace(ownerDomain)),
		byAddress:   make(map[string]string),
		profiles:    make(map[string]*Profile),
	}
}

// Seed loads previously persisted profiles, so that incremental runs
// resolve new observations against identities from earlier runs.
func (n *Normalizer) Seed(profiles []*Profile) {
	for _, p := range profiles {
		if _, exists := n.profiles[p.CanonicalEmail]; exists {
			continue
		}
		n.profiles[p.CanonicalEmail] = p
		n.order = append(n.order, p.CanonicalEmail)
		n.byAddress[p.CanonicalEmail] = p.CanonicalEmail
		for _, addr := range p.Addresses {
			if _, seen := n.byAddress[addr]; !seen {
				n.byAddress[addr] = p.CanonicalEmail
			}
		}
	}
}

// Resolve maps a raw address string to its canonical identity, creating
// a new profile when no existing identity matches. seenAt updates the
// first/last-seen window of the profile. Addresses without an '@' are
// treated as opaque canonical keys, never an error.
func (n *Normalizer) Resolve(raw, nameHint string, seenAt time.Time) string {
	addr, parsedName := SplitRawAddress(raw)
	if addr == "" {
		return ""
	}
	if nameHint == "" {
		nameHint = parsedName
	}

	// 1. Exact match on a previously normalized address.
	if canonical, ok := n.byAddress[addr]; ok {
		n.touch(canonical, addr, nameHint, seenAt)
		return canonical
	}

	// 2. Same-domain local-part similarity against known identities,
	// scanned in creation order so resolution is deterministic.
	if dom := domainOf(addr); dom != "" {
		local := localPart(addr)
		for _, canonical := range n.order {
			p := n.profiles[canonical]
			if p.Domain != dom {
				continue
			}
			if SimilarLocalParts(local, localPart(p.CanonicalEmail)) {
				n.byAddress[addr] = canonical
				n.touch(canonical, addr, nameHint, seenAt)
				return canonical
			}
		}
	}

	// 3. No match: the normalized address becomes a new canonical identity.
	p := &Profile{
		CanonicalEmail: addr,
		DisplayName:    displayName(addr, nameHint),
		Addresses:      []string{addr},
		Domain:         domainOf(addr),
		Relationship:   RelationshipOther,
		Weight:         1.0,
		FirstSeen:      seenAt,
		LastSeen:       seenAt,
	}
	p.IsInternal = p.Domain != "" && p.Domain == n.ownerDomain
	n.profiles[addr] = p
	n.byAddress[addr] = addr
	n.order = append(n.order, addr)
	return addr
}

// Canonical returns the canonical identity for a raw address without
// mutating any state. Unknown addresses map to their normalized form.
// Safe for concurrent use once resolution is complete.
func (n *Normalizer) Canonical(raw string) string {
	addr, _ := SplitRawAddress(raw)
	if canonical, ok := n.byAddress[addr]; ok {
		return canonical
	}
	return addr
}

// touch updates a profile with a fresh observation.
func (n *Normalizer) touch(canonical, addr, nameHint string, seenAt time.Time) {
	p := n.profiles[canonical]
	if !p.hasAddress(addr) {
		p.Addresses = append(p.Addresses, addr)
	}
	if p.DisplayName == "" && nameHint != "" {
		p.DisplayName = nameHint
	}
	if !seenAt.IsZero() {
		if p.FirstSeen.IsZero() || seenAt.Before(p.FirstSeen) {
			p.FirstSeen = seenAt
		}
		if seenAt.After(p.LastSeen) {
			p.LastSeen = seenAt
		}
	}
}

// Profile returns the profile for a canonical identity, or nil.
func (n *Normalizer) Profile(canonical string) *Profile {
	return n.profiles[canonical]
}

// All returns every profile in creation order.
func (n *Normalizer) All() []*Profile {
	out := make([]*Profile, 0, len(n.order))
	for _, canonical := range n.order {
		out = append(out, n.profiles[canonical])
	}
	return out
}

// ByRelationship returns profiles tagged with the given relationship type.
func (n *Normalizer) ByRelationship(relationship string) []*Profile {
	var out []*Profile
	for _, p := range n.All() {
		if p.Relationship == relationship {
			out = append(out, p)
		}
	}
	return out
}

// Internal returns profiles on the owner's domain.
func (n *Normalizer) Internal() []*Profile {
	var out []*Profile
	for _, p := range n.All() {
		if p.IsInternal {
			out = append(out, p)
		}
	}
	return out
}

// External returns profiles outside the owner's domain.
func (n *Normalizer) External() []*Profile {
	var out []*Profile
	for _, p := range n.All() {
		if !p.IsInternal {
			out = append(out, p)
		}
	}
	return out
}

// TopByWeight returns the count highest-weighted profiles, heaviest
// first. Ties keep creation order.
func (n *Normalizer) TopByWeight(count int) []*Profile {
	all := n.All()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Weight > all[j].Weight
	})
	if count < len(all) {
		all = all[:count]
	}
	return all
}

// ValidRelationship reports whether s is a known relationship type.
func ValidRelationship(s string) bool {
	return validRelationships[s]
}

// SetRelationship tags a contact with a relationship type.
func (n *Normalizer) SetRelationship(canonical, relationship string) error {
	p := n.profiles[canonical]
	if p == nil {
		return fmt.Errorf("unknown contact %q", canonical)
	}
	if !ValidRelationship(relationship) {
		return fmt.Errorf("invalid relationship type %q", relationship)
	}
	p.Relationship = relationship
	return nil
}

// SetWeight assigns an importance weight to a contact.
func (n *Normalizer) SetWeight(canonical string, weight float64) error {
	p := n.profiles[canonical]
	if p == nil {
		return fmt.Errorf("unknown contact %q", canonical)
	}
	p.Weight = weight
	return nil
}

// displayName derives a human-readable name: the hint when present,
// otherwise title-cased local-part tokens ("john.doe" -> "John Doe").
func displayName(addr, hint string) string {
	if hint != "" {
		return hint
	}
	tokens := localTokens(localPart(addr))
	if len(tokens) == 0 {
		return addr
	}
	return cases.Title(language.English).String(strings.Join(tokens, " "))
}
