package terms

import (
	"strings"
	"testing"
)

func newFrozen(t *testing.T, caseInsensitive bool, list ...Term) *Table {
	t.Helper()
	table := New(caseInsensitive)
	for _, term := range list {
		if err := table.Add(term); err != nil {
			t.Fatalf("Add(%q): %v", term.Surface, err)
		}
	}
	table.Freeze()
	return table
}

func TestTable_ProtectRestore_RoundTrip(t *testing.T) {
	table := newFrozen(t, false,
		Term{Surface: "TensorFlow"},
		Term{Surface: "gradient descent"},
	)

	texts := []string{
		"TensorFlow uses gradient descent.",
		"No protected terms here.",
		"gradient descent, then TensorFlow, then gradient descent again",
		"",
	}
	for _, src := range texts {
		protected := table.Protect(src)
		restored, errs := table.Restore(protected)
		if len(errs) != 0 {
			t.Errorf("Restore(%q) reported errors: %v", src, errs)
		}
		if restored != src {
			t.Errorf("round trip changed text:\n  src      %q\n  restored %q", src, restored)
		}
	}
}

func TestTable_Protect_WrapsTerms(t *testing.T) {
	table := newFrozen(t, false, Term{Surface: "TensorFlow"})

	got := table.Protect("I like TensorFlow a lot")
	want := "I like ⟦TERM:TensorFlow⟧ a lot"
	if got != want {
		t.Errorf("Protect = %q, want %q", got, want)
	}
}

func TestTable_Protect_SourceContainingSentinel(t *testing.T) {
	// Source text that already looks like a sentinel must survive the
	// round trip byte for byte.
	table := newFrozen(t, false, Term{Surface: "API"})

	src := "weird input ⟦TERM:fake⟧ with API inside"
	protected := table.Protect(src)
	restored, errs := table.Restore(protected)
	if len(errs) != 0 {
		t.Fatalf("unexpected integrity errors: %v", errs)
	}
	if restored != src {
		t.Errorf("round trip changed text:\n  src      %q\n  restored %q", src, restored)
	}
}

func TestTable_Protect_LongestTermWins(t *testing.T) {
	table := newFrozen(t, false,
		Term{Surface: "machine"},
		Term{Surface: "machine learning"},
	)

	got := table.Protect("machine learning rocks")
	want := "⟦TERM:machine learning⟧ rocks"
	if got != want {
		t.Errorf("Protect = %q, want %q", got, want)
	}
}

func TestTable_Protect_WordBoundaries(t *testing.T) {
	table := newFrozen(t, false, Term{Surface: "Go"})

	got := table.Protect("Go is not Google")
	if !strings.Contains(got, "⟦TERM:Go⟧ is") {
		t.Errorf("expected standalone Go wrapped, got %q", got)
	}
	if strings.Contains(got, "⟦TERM:Go⟧ogle") {
		t.Errorf("Go inside Google must not match, got %q", got)
	}
}

func TestTable_Protect_NonWordEdges(t *testing.T) {
	// "C++" ends in a non-word rune; the right-hand boundary must not be
	// required for it to match.
	table := newFrozen(t, false, Term{Surface: "C++"})

	got := table.Protect("written in C++ today")
	if !strings.Contains(got, "⟦TERM:C++⟧") {
		t.Errorf("expected C++ wrapped, got %q", got)
	}
}

func TestTable_Protect_NonASCIIEdges(t *testing.T) {
	// RE2's \b never asserts next to non-ASCII runes, so boundary checks
	// are done per match; terms with accented or CJK edges must still wrap.
	table := newFrozen(t, false,
		Term{Surface: "café"},
		Term{Surface: "机器学习"},
		Term{Surface: "Gödel"},
	)

	tests := []struct {
		src  string
		want string
	}{
		{"we met at the café yesterday", "we met at the ⟦TERM:café⟧ yesterday"},
		{"本书介绍 机器学习 的基础", "本书介绍 ⟦TERM:机器学习⟧ 的基础"},
		// CJK has no word delimiters; a term inside a contiguous run must
		// still match.
		{"介绍机器学习的基础", "介绍⟦TERM:机器学习⟧的基础"},
		{"Gödel proved it", "⟦TERM:Gödel⟧ proved it"},
		// Suffixed forms are a different word.
		{"two cafés downtown", "two cafés downtown"},
	}
	for _, tt := range tests {
		if got := table.Protect(tt.src); got != tt.want {
			t.Errorf("Protect(%q) = %q, want %q", tt.src, got, tt.want)
		}
		restored, errs := table.Restore(table.Protect(tt.src))
		if len(errs) != 0 || restored != tt.src {
			t.Errorf("round trip of %q: restored %q, errs %v", tt.src, restored, errs)
		}
	}
}

func TestTable_Protect_SourceContainingEscapedOpener(t *testing.T) {
	// A source that already carries the word-joiner escape gains one more
	// joiner under Protect and loses it again under Restore.
	table := newFrozen(t, false, Term{Surface: "API"})

	for _, src := range []string{
		"odd input " + escapedOpen + " with API inside",
		"doubly odd ⟦TERM⁠⁠: input",
	} {
		protected := table.Protect(src)
		restored, errs := table.Restore(protected)
		if len(errs) != 0 {
			t.Fatalf("unexpected integrity errors: %v", errs)
		}
		if restored != src {
			t.Errorf("round trip changed text:\n  src      %q\n  restored %q", src, restored)
		}
	}
}

func FuzzProtectRestore(f *testing.F) {
	seeds := []string{
		"TensorFlow uses gradient descent.",
		"weird input ⟦TERM:fake⟧ here",
		"already escaped ⟦TERM⁠: opener",
		"stray bracket ⟧ and opener ⟦TERM:",
		"本书介绍机器学习的基础",
		"we met at the café, then cafés",
		"",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, src string) {
		table := New(false)
		for _, surface := range []string{"TensorFlow", "gradient descent", "机器学习", "café", "C++"} {
			if err := table.Add(Term{Surface: surface}); err != nil {
				t.Fatal(err)
			}
		}
		table.Freeze()

		protected := table.Protect(src)
		restored, errs := table.Restore(protected)
		if len(errs) != 0 {
			t.Fatalf("integrity errors on clean round trip of %q: %v", src, errs)
		}
		if restored != src {
			t.Fatalf("round trip changed text:\n  src      %q\n  restored %q", src, restored)
		}
	})
}

func TestTable_CaseInsensitive(t *testing.T) {
	table := newFrozen(t, true, Term{Surface: "TensorFlow"})

	protected := table.Protect("TENSORFLOW and tensorflow")
	if n := strings.Count(protected, "⟦TERM:"); n != 2 {
		t.Errorf("expected 2 protected occurrences, got %d in %q", n, protected)
	}
	// Restore reproduces the casing each occurrence actually had.
	restored, _ := table.Restore(protected)
	if restored != "TENSORFLOW and tensorflow" {
		t.Errorf("restored = %q", restored)
	}
}

func TestTable_Restore_OrphanSentinel(t *testing.T) {
	table := newFrozen(t, false, Term{Surface: "API"})

	protected := table.Protect("the API is stable")
	// Simulate the model eating the closing bracket.
	broken := strings.Replace(protected, "⟧", "", 1)

	restored, errs := table.Restore(broken)
	if len(errs) != 1 {
		t.Fatalf("expected 1 integrity error, got %d", len(errs))
	}
	if strings.Contains(restored, "⟦TERM:") {
		t.Errorf("orphan opener left in output: %q", restored)
	}
	if !strings.Contains(restored, "API") {
		t.Errorf("inner text lost: %q", restored)
	}
}

func TestTable_Add_SumsFrequencies(t *testing.T) {
	table := New(false)
	table.Add(Term{Surface: "API", Frequency: 2, FirstSeen: 7})
	table.Add(Term{Surface: "API", Frequency: 3, FirstSeen: 2})

	terms := table.Terms()
	if len(terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(terms))
	}
	if terms[0].Frequency != 5 {
		t.Errorf("frequency = %d, want 5", terms[0].Frequency)
	}
	if terms[0].FirstSeen != 2 {
		t.Errorf("FirstSeen = %d, want 2", terms[0].FirstSeen)
	}
}

func TestTable_Add_AfterFreeze(t *testing.T) {
	table := newFrozen(t, false)
	if err := table.Add(Term{Surface: "late"}); err != ErrFrozen {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
}

func TestTable_Merge_UserTermWins(t *testing.T) {
	table := New(false)
	table.Add(Term{Surface: "transformer", Frequency: 9})

	err := table.Merge([]Term{{Surface: "transformer", Translation: "变换器"}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// A later extracted duplicate must not displace the user entry.
	table.Add(Term{Surface: "transformer", Frequency: 4})

	terms := table.Terms()
	if len(terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(terms))
	}
	if !terms[0].UserTerm {
		t.Error("expected user term to win")
	}
	if terms[0].Translation != "变换器" {
		t.Errorf("translation = %q", terms[0].Translation)
	}
}

func TestTable_Glossary_OnlyTranslatedTerms(t *testing.T) {
	table := newFrozen(t, false,
		Term{Surface: "TensorFlow"},
		Term{Surface: "gradient descent", Translation: "梯度下降"},
	)

	g := table.Glossary()
	if len(g) != 1 {
		t.Fatalf("expected 1 glossary entry, got %d", len(g))
	}
	if g["gradient descent"] != "梯度下降" {
		t.Errorf("glossary = %v", g)
	}

	// Terms with a pinned translation must not be sentinel-protected:
	// their occurrences are supposed to be translated.
	protected := table.Protect("gradient descent and TensorFlow")
	if strings.Contains(protected, "⟦TERM:gradient descent⟧") {
		t.Errorf("translated term was sentinel-protected: %q", protected)
	}
	if !strings.Contains(protected, "⟦TERM:TensorFlow⟧") {
		t.Errorf("preserve-only term not protected: %q", protected)
	}
}

func TestTable_Version(t *testing.T) {
	a := newFrozen(t, false, Term{Surface: "API"})
	b := newFrozen(t, false, Term{Surface: "API"})
	c := newFrozen(t, false, Term{Surface: "API"}, Term{Surface: "SDK"})

	if a.Version() != b.Version() {
		t.Error("identical tables must share a version")
	}
	if a.Version() == c.Version() {
		t.Error("different term sets must have different versions")
	}
	if len(a.Version()) != 16 {
		t.Errorf("version length = %d, want 16", len(a.Version()))
	}
}

func TestTable_Protect_EmptyTable(t *testing.T) {
	table := newFrozen(t, false)
	if got := table.Protect("unchanged"); got != "unchanged" {
		t.Errorf("Protect = %q", got)
	}
}
