package contacts

import "testing"

func TestSplitRawAddress(t *testing.T) {
	cases := []struct {
		raw      string
		addr     string
		name     string
	}{
		{"john.doe@acme.com", "john.doe@acme.com", ""},
		{"John Doe <John.Doe@Acme.com>", "john.doe@acme.com", "John Doe"},
		{`"Doe, John" <jdoe@acme.com>`, "jdoe@acme.com", "Doe, John"},
		{"  JDOE@ACME.COM  ", "jdoe@acme.com", ""},
		{"<bare@acme.com>", "bare@acme.com", ""},
		{"slack:U12345", "slack:u12345", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		addr, name := SplitRawAddress(tc.raw)
		if addr != tc.addr || name != tc.name {
			t.Errorf("SplitRawAddress(%q) = (%q, %q), want (%q, %q)",
				tc.raw, addr, name, tc.addr, tc.name)
		}
	}
}

func TestLocalPartAndDomain(t *testing.T) {
	if got := localPart("john.doe@acme.com"); got != "john.doe" {
		t.Errorf("localPart = %q", got)
	}
	if got := domainOf("john.doe@acme.com"); got != "acme.com" {
		t.Errorf("domainOf = %q", got)
	}
	if got := domainOf("opaque-key"); got != "" {
		t.Errorf("domainOf(opaque) = %q, want empty", got)
	}
	if got := localPart("opaque-key"); got != "opaque-key" {
		t.Errorf("localPart(opaque) = %q", got)
	}
}

func TestCollapseLocal(t *testing.T) {
	cases := map[string]string{
		"john.doe":   "johndoe",
		"john_doe":   "johndoe",
		"john-doe":   "johndoe",
		"j.d-o_e":    "jdoe",
		"plain":      "plain",
		"user+tag":   "user+tag", // '+' is not a separator
		"jdoe2":      "jdoe2",
	}
	for in, want := range cases {
		if got := collapseLocal(in); got != want {
			t.Errorf("collapseLocal(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimilarLocalParts(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"john.doe", "johndoe", true},  // separator collapse
		{"john.doe", "john_doe", true}, // different separators
		{"john", "john.doe", true},     // containment
		{"jdoe", "john.doe", true},     // initial + surname
		{"jd", "john.doe", true},       // pure initialism
		{"john.doe", "jdoe", true},     // symmetric
		{"jdoe2", "john.doe", false},   // numeric suffix breaks initials
		{"jane.doe", "john.doe", false},
		{"bob", "alice", false},
		{"", "john", false},
		{"user+tag", "user.tag", false}, // plus-addressing stays distinct
	}
	for _, tc := range cases {
		if got := SimilarLocalParts(tc.a, tc.b); got != tc.want {
			t.Errorf("SimilarLocalParts(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestInitialsForms(t *testing.T) {
	forms := initialsForms([]string{"john", "michael", "doe"})
	want := map[string]bool{"jmd": true, "jmdoe": true}
	if len(forms) != 2 {
		t.Fatalf("got %d forms: %v", len(forms), forms)
	}
	for _, f := range forms {
		if !want[f] {
			t.Errorf("unexpected form %q", f)
		}
	}

	if forms := initialsForms([]string{"single"}); forms != nil {
		t.Errorf("single token should yield no forms, got %v", forms)
	}
}
