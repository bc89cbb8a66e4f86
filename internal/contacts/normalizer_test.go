package contacts

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var seenAt = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestResolveCaseAndWhitespaceVariants(t *testing.T) {
	n := New("acme.com")

	variants := []string{
		"john.doe@acme.com",
		"John.Doe@Acme.com",
		"  JOHN.DOE@ACME.COM ",
		"John Doe <john.doe@acme.com>",
	}

	first := n.Resolve(variants[0], "", seenAt)
	for _, v := range variants[1:] {
		if got := n.Resolve(v, "", seenAt); got != first {
			t.Errorf("Resolve(%q) = %q, want %q", v, got, first)
		}
	}
	if len(n.All()) != 1 {
		t.Errorf("got %d profiles, want 1", len(n.All()))
	}
}

func TestResolveSimilarityFamily(t *testing.T) {
	n := New("acme.com")

	a := n.Resolve("john.doe@acme.com", "", seenAt)
	b := n.Resolve("jdoe@acme.com", "", seenAt.Add(time.Hour))
	c := n.Resolve("john@acme.com", "", seenAt.Add(2*time.Hour))

	if a != b || b != c {
		t.Errorf("family did not merge: %q, %q, %q", a, b, c)
	}

	p := n.Profile(a)
	if p == nil {
		t.Fatal("profile missing")
	}
	if len(p.Addresses) != 3 {
		t.Errorf("got %d known addresses, want 3: %v", len(p.Addresses), p.Addresses)
	}
	if !p.FirstSeen.Equal(seenAt) {
		t.Errorf("FirstSeen = %v, want %v", p.FirstSeen, seenAt)
	}
	if !p.LastSeen.Equal(seenAt.Add(2 * time.Hour)) {
		t.Errorf("LastSeen = %v", p.LastSeen)
	}
}

func TestResolveDifferentDomainsStayDistinct(t *testing.T) {
	n := New("acme.com")

	a := n.Resolve("jdoe@acme.com", "", seenAt)
	b := n.Resolve("jdoe@example.org", "", seenAt)
	if a == b {
		t.Error("same local part on different domains merged")
	}
}

func TestResolveOpaqueAddress(t *testing.T) {
	n := New("acme.com")

	id := n.Resolve("slack:U12345", "Jane", seenAt)
	if id != "slack:u12345" {
		t.Errorf("opaque id = %q", id)
	}
	p := n.Profile(id)
	if p == nil {
		t.Fatal("profile missing")
	}
	if p.Domain != "" {
		t.Errorf("opaque domain = %q, want empty", p.Domain)
	}
	if p.IsInternal {
		t.Error("opaque address classified internal")
	}
	if p.DisplayName != "Jane" {
		t.Errorf("DisplayName = %q", p.DisplayName)
	}
}

func TestResolvePlusAddressingStaysDistinct(t *testing.T) {
	n := New("acme.com")

	a := n.Resolve("user@acme.com", "", seenAt)
	b := n.Resolve("usertag@acme.com", "", seenAt)
	if a != b {
		// "usertag" contains "user" so containment links them; that is
		// the documented cascade, not plus-handling.
		t.Errorf("containment should merge: %q vs %q", a, b)
	}

	n2 := New("acme.com")
	x := n2.Resolve("payments+invoices@acme.com", "", seenAt)
	y := n2.Resolve("payments+receipts@acme.com", "", seenAt)
	if x == y {
		t.Error("distinct plus tags merged")
	}
}

func TestDerivedDisplayName(t *testing.T) {
	n := New("acme.com")

	id := n.Resolve("john.doe@acme.com", "", seenAt)
	if got := n.Profile(id).DisplayName; got != "John Doe" {
		t.Errorf("DisplayName = %q, want John Doe", got)
	}

	id2 := n.Resolve("maria_garcia-lopez@example.org", "", seenAt)
	if got := n.Profile(id2).DisplayName; got != "Maria Garcia Lopez" {
		t.Errorf("DisplayName = %q", got)
	}
}

func TestNameHintUpgradesEmptyDisplayName(t *testing.T) {
	n := New("acme.com")

	id := n.Resolve("x@acme.com", "", seenAt)
	n.Profile(id).DisplayName = ""
	n.Resolve("x@acme.com", "Xavier", seenAt)
	if got := n.Profile(id).DisplayName; got != "Xavier" {
		t.Errorf("DisplayName = %q, want Xavier", got)
	}
}

func TestInternalExternalClassification(t *testing.T) {
	n := New("acme.com")

	in := n.Resolve("alice@acme.com", "", seenAt)
	out := n.Resolve("bob@client.io", "", seenAt)

	if !n.Profile(in).IsInternal {
		t.Error("acme.com address should be internal")
	}
	if n.Profile(out).IsInternal {
		t.Error("client.io address should be external")
	}
	if got := len(n.Internal()); got != 1 {
		t.Errorf("Internal() len = %d", got)
	}
	if got := len(n.External()); got != 1 {
		t.Errorf("External() len = %d", got)
	}
}

func TestRelationshipAndWeight(t *testing.T) {
	n := New("acme.com")
	id := n.Resolve("boss@acme.com", "", seenAt)

	if got := n.Profile(id).Relationship; got != RelationshipOther {
		t.Errorf("default relationship = %q", got)
	}
	if got := n.Profile(id).Weight; got != 1.0 {
		t.Errorf("default weight = %v", got)
	}

	if err := n.SetRelationship(id, RelationshipManager); err != nil {
		t.Fatalf("SetRelationship: %v", err)
	}
	if err := n.SetRelationship(id, "bestie"); err == nil {
		t.Error("invalid relationship accepted")
	}
	if err := n.SetRelationship("ghost@acme.com", RelationshipTeam); err == nil {
		t.Error("unknown contact accepted")
	}

	got := n.ByRelationship(RelationshipManager)
	if len(got) != 1 || got[0].CanonicalEmail != id {
		t.Errorf("ByRelationship = %v", got)
	}
}

func TestTopByWeight(t *testing.T) {
	n := New("acme.com")
	a := n.Resolve("a@acme.com", "", seenAt)
	b := n.Resolve("b@acme.com", "", seenAt)
	c := n.Resolve("c@acme.com", "", seenAt)

	testSetWeight(t, n, b, 5)
	testSetWeight(t, n, c, 3)

	top := n.TopByWeight(2)
	if len(top) != 2 {
		t.Fatalf("got %d profiles", len(top))
	}
	if top[0].CanonicalEmail != b || top[1].CanonicalEmail != c {
		t.Errorf("TopByWeight order: %q, %q", top[0].CanonicalEmail, top[1].CanonicalEmail)
	}
	_ = a
}

func testSetWeight(t *testing.T, n *Normalizer, id string, w float64) {
	t.Helper()
	if err := n.SetWeight(id, w); err != nil {
		t.Fatalf("SetWeight(%q): %v", id, err)
	}
}

func TestSeedRestoresIdentities(t *testing.T) {
	n := New("acme.com")
	id := n.Resolve("john.doe@acme.com", "John Doe", seenAt)
	n.Resolve("jdoe@acme.com", "", seenAt)

	saved := n.All()

	n2 := New("acme.com")
	n2.Seed(saved)

	if got := n2.Resolve("jdoe@acme.com", "", seenAt.Add(time.Hour)); got != id {
		t.Errorf("seeded resolve = %q, want %q", got, id)
	}
	if diff := cmp.Diff(saved[0].Addresses, n2.Profile(id).Addresses); diff != "" {
		t.Errorf("addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonicalIsReadOnly(t *testing.T) {
	n := New("acme.com")
	id := n.Resolve("john.doe@acme.com", "", seenAt)

	if got := n.Canonical("JOHN.DOE@ACME.COM"); got != id {
		t.Errorf("Canonical = %q, want %q", got, id)
	}
	// Unknown addresses normalize without creating a profile.
	if got := n.Canonical("Stranger <stranger@x.com>"); got != "stranger@x.com" {
		t.Errorf("Canonical(unknown) = %q", got)
	}
	if len(n.All()) != 1 {
		t.Errorf("Canonical created a profile: %d", len(n.All()))
	}
}
