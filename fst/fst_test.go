package fst

import (
	"errors"
	"fmt"
	"testing"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/bytesref"
)

func build(t *testing.T, pairs ...Entry) *FST {
	t.Helper()
	b := NewBuilder()
	for _, p := range pairs {
		if err := b.Add(p.Input, p.Output); err != nil {
			t.Fatalf("add %q: %v", p.Input, err)
		}
	}
	f, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func get(t *testing.T, f *FST, input string) int64 {
	t.Helper()
	v, err := f.Get(bytesref.FromString(input))
	if err != nil {
		t.Fatalf("get %q: %v", input, err)
	}
	return v
}

func TestAccumulation(t *testing.T) {
	f := build(t,
		Entry{bytesref.FromString("a"), 5},
		Entry{bytesref.FromString("ab"), 8},
		Entry{bytesref.FromString("abc"), 10},
	)

	if v := get(t, f, "a"); v != 5 {
		t.Fatalf(`get("a") = %d, want 5`, v)
	}
	if v := get(t, f, "ab"); v != 8 {
		t.Fatalf(`get("ab") = %d, want 8`, v)
	}
	if v := get(t, f, "abc"); v != 10 {
		t.Fatalf(`get("abc") = %d, want 10`, v)
	}
	if v := get(t, f, ""); v != NoOutput {
		t.Fatalf(`get("") = %d, want NoOutput`, v)
	}
	if v := get(t, f, "abcd"); v != NoOutput {
		t.Fatalf(`get("abcd") = %d, want NoOutput`, v)
	}

	prefixLen, output, err := f.LongestPrefixMatch(bytesref.FromString("abxyz"))
	if err != nil {
		t.Fatal(err)
	}
	if prefixLen != 2 || output != 8 {
		t.Fatalf("LongestPrefixMatch = (%d, %d), want (2, 8)", prefixLen, output)
	}
}

func TestExactMatchOnly(t *testing.T) {
	f := build(t,
		Entry{bytesref.FromString("apple"), 1},
		Entry{bytesref.FromString("apply"), 2},
		Entry{bytesref.FromString("banana"), 3},
	)

	// Proper prefixes and extensions of stored inputs are not matches.
	for _, miss := range []string{"", "app", "appl", "applesauce", "ban", "bananas", "zzz"} {
		if v := get(t, f, miss); v != NoOutput {
			t.Fatalf("get(%q) = %d, want NoOutput", miss, v)
		}
	}
	if v := get(t, f, "apple"); v != 1 {
		t.Fatalf("apple = %d", v)
	}
	if v := get(t, f, "apply"); v != 2 {
		t.Fatalf("apply = %d", v)
	}
	if v := get(t, f, "banana"); v != 3 {
		t.Fatalf("banana = %d", v)
	}
}

func TestOrderViolations(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(bytesref.FromString("b"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(bytesref.FromString("a"), 2); !errors.Is(err, diagon.ErrInvalidInput) {
		t.Fatalf("out-of-order add: expected ErrInvalidInput, got %v", err)
	}
	if err := b.Add(bytesref.FromString("b"), 3); !errors.Is(err, diagon.ErrInvalidInput) {
		t.Fatalf("duplicate add: expected ErrInvalidInput, got %v", err)
	}
	if err := b.Add(bytesref.FromString("c"), -1); !errors.Is(err, diagon.ErrInvalidInput) {
		t.Fatalf("negative output: expected ErrInvalidInput, got %v", err)
	}

	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(bytesref.FromString("z"), 1); !errors.Is(err, diagon.ErrInvalidInput) {
		t.Fatalf("add after finish: expected ErrInvalidInput, got %v", err)
	}
}

func TestAll256ByteLabels(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < 256; i++ {
		if err := b.Add(bytesref.Bytes{byte(i)}, int64(i)*3); err != nil {
			t.Fatal(err)
		}
	}
	f, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 256; i++ {
		v, err := f.Get(bytesref.Bytes{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		if v != int64(i)*3 {
			t.Fatalf("label %d = %d, want %d", i, v, i*3)
		}
	}
}

func TestIterationOrderWithEmptyFirst(t *testing.T) {
	f := build(t,
		Entry{bytesref.FromString(""), 100},
		Entry{bytesref.FromString("a"), 1},
		Entry{bytesref.FromString("z"), 26},
	)

	if v := get(t, f, ""); v != 100 {
		t.Fatalf(`get("") = %d, want 100`, v)
	}

	entries, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{bytesref.FromString(""), 100},
		{bytesref.FromString("a"), 1},
		{bytesref.FromString("z"), 26},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i := range want {
		if !entries[i].Input.Equal(want[i].Input) || entries[i].Output != want[i].Output {
			t.Fatalf("entry %d = (%q, %d), want (%q, %d)",
				i, entries[i].Input, entries[i].Output, want[i].Input, want[i].Output)
		}
	}

	// Iteration is repeatable with identical results.
	again, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(entries) {
		t.Fatal("second iteration differs")
	}
}

func TestEmptyFST(t *testing.T) {
	f := build(t)
	if v := get(t, f, "anything"); v != NoOutput {
		t.Fatalf("empty FST get = %d, want NoOutput", v)
	}
	n, _, err := f.LongestPrefixMatch(bytesref.FromString("x"))
	if err != nil || n != 0 {
		t.Fatalf("empty FST prefix match = %d, %v", n, err)
	}

	data, err := f.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := back.Get(bytesref.FromString("x")); v != NoOutput {
		t.Fatal("deserialized empty FST not empty")
	}
}

func TestRoundTripIdempotent(t *testing.T) {
	pairs := []Entry{
		{bytesref.FromString(""), 7},
		{bytesref.FromString("a"), 5},
		{bytesref.FromString("ab"), 8},
		{bytesref.FromString("abc"), 10},
		{bytesref.FromString("b"), 2},
		{bytesref.FromString("zzz"), 999},
	}
	f := build(t, pairs...)

	data1, err := f.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Deserialize(data1)
	if err != nil {
		t.Fatal(err)
	}
	data2, err := f2.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	f3, err := Deserialize(data2)
	if err != nil {
		t.Fatal(err)
	}

	if string(data1) != string(data2) {
		t.Fatal("second round trip is not byte-identical")
	}

	queries := []string{"", "a", "ab", "abc", "abcd", "b", "ba", "zzz", "zz", "q"}
	for _, q := range queries {
		v1 := get(t, f, q)
		v2 := get(t, f2, q)
		v3 := get(t, f3, q)
		if v1 != v2 || v2 != v3 {
			t.Fatalf("get(%q) diverged across round trips: %d %d %d", q, v1, v2, v3)
		}

		n1, o1, _ := f.LongestPrefixMatch(bytesref.FromString(q))
		n2, o2, _ := f2.LongestPrefixMatch(bytesref.FromString(q))
		if n1 != n2 || o1 != o2 {
			t.Fatalf("prefix match of %q diverged: (%d,%d) vs (%d,%d)", q, n1, o1, n2, o2)
		}
	}

	e1, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	e2, err := f2.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(e1) != len(e2) {
		t.Fatal("entry counts diverged")
	}
	for i := range e1 {
		if !e1[i].Input.Equal(e2[i].Input) || e1[i].Output != e2[i].Output {
			t.Fatalf("entry %d diverged", i)
		}
	}
}

func TestCorruptStreams(t *testing.T) {
	f := build(t, Entry{bytesref.FromString("abc"), 1})
	data, err := f.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xFF
		if _, err := Deserialize(bad); !errors.Is(err, diagon.ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("truncations", func(t *testing.T) {
		for i := 1; i < len(data); i++ {
			_, err := Deserialize(data[:i])
			if err == nil {
				// A prefix that happens to parse is not checked
				// further; only failures must carry ErrCorrupt.
				continue
			}
			if !errors.Is(err, diagon.ErrCorrupt) {
				t.Fatalf("truncate at %d: expected ErrCorrupt, got %v", i, err)
			}
		}
	})

	t.Run("unknown encoding tag", func(t *testing.T) {
		// Corrupt the packed node region (it is the tail of the stream).
		bad := append([]byte(nil), data...)
		for i := len(bad) - 4; i < len(bad); i++ {
			bad[i] = 0xEE
		}
		back, err := Deserialize(bad)
		if err != nil {
			if !errors.Is(err, diagon.ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
			return
		}
		if _, err := back.Get(bytesref.FromString("abc")); err != nil && !errors.Is(err, diagon.ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestEncodingEquivalence(t *testing.T) {
	// Shapes chosen so nodes land in each encoding: dense consecutive
	// children (continuous), a dense-but-gapped fan-out (direct
	// addressing), a wide sparse fan-out (binary search), and small nodes
	// (linear scan). Every shape must answer identically to a map.
	shapes := []struct {
		name   string
		labels []byte
	}{
		{"continuous", []byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h'}},
		{"direct addressing", []byte{'a', 'c', 'e', 'g', 'i', 'k', 'm', 'o'}},
		{"binary search", []byte{0x01, 0x20, 0x40, 0x60, 0x80, 0xA0, 0xC0, 0xE0}},
		{"linear scan", []byte{'x', 'z'}},
	}

	for _, shape := range shapes {
		t.Run(shape.name, func(t *testing.T) {
			b := NewBuilder()
			want := make(map[string]int64)
			for i, l := range shape.labels {
				key := string([]byte{'p', l})
				out := int64(i * 11)
				if err := b.Add(bytesref.FromString(key), out); err != nil {
					t.Fatal(err)
				}
				want[key] = out
			}
			f, err := b.Finish()
			if err != nil {
				t.Fatal(err)
			}

			for key, out := range want {
				if v := get(t, f, key); v != out {
					t.Fatalf("get(%q) = %d, want %d", key, v, out)
				}
			}
			for _, miss := range []string{"p", "pb0", "q", string([]byte{'p', 0x00})} {
				if _, ok := want[miss]; ok {
					continue
				}
				if v := get(t, f, miss); v != NoOutput {
					t.Fatalf("get(%q) = %d, want NoOutput", miss, v)
				}
			}
		})
	}
}

func TestScaleTenThousandTerms(t *testing.T) {
	b := NewBuilder()
	const n = 10000
	for i := 0; i < n; i++ {
		term := fmt.Sprintf("term_%08d", i)
		if err := b.Add(bytesref.FromString(term), int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	f, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		term := fmt.Sprintf("term_%08d", i)
		if v := get(t, f, term); v != int64(i) {
			t.Fatalf("get(%q) = %d, want %d", term, v, i)
		}
	}

	entries, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("entries = %d, want %d", len(entries), n)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Input.Compare(entries[i].Input) >= 0 {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestSharedSuffixesDeduplicated(t *testing.T) {
	// Two branches with identical suffix structure should share frozen
	// nodes: the packed buffer must be much smaller than a trie would be.
	b := NewBuilder()
	inputs := []string{"aaa0common", "aaa1common", "bbb0common", "bbb1common"}
	for _, in := range inputs {
		if err := b.Add(bytesref.FromString(in), 0); err != nil {
			t.Fatal(err)
		}
	}
	f, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	for _, in := range inputs {
		if v := get(t, f, in); v != 0 {
			t.Fatalf("get(%q) = %d", in, v)
		}
	}

	// A trie would need ~40 nodes; with suffix sharing the buffer stays
	// well under that many encoded nodes' worth of bytes.
	if len(f.data) > 200 {
		t.Fatalf("packed buffer %d bytes; suffixes do not appear shared", len(f.data))
	}
}
