package phone

import "testing"

func TestNormaliseMobile(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0491 570 006", "+61491570006"},
		{"(04) 9157-0006", "+61491570006"},
		{"+61491570006", "+61491570006"},
		{"61491570006", "+61491570006"},
	}
	for _, c := range cases {
		got, err := Normalise(c.in)
		if err != nil {
			t.Fatalf("Normalise(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Normalise(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormaliseLandline(t *testing.T) {
	for _, prefix := range []string{"2", "3", "7", "8"} {
		in := "0" + prefix + "12345678"
		got, err := Normalise(in)
		if err != nil {
			t.Fatalf("Normalise(%q) error: %v", in, err)
		}
		want := "+61" + prefix + "12345678"
		if got != want {
			t.Errorf("Normalise(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormaliseInvalidPrefix(t *testing.T) {
	for _, in := range []string{"0112345678", "0912345678"} {
		if _, err := Normalise(in); err == nil {
			t.Errorf("Normalise(%q): expected error, got none", in)
		}
	}
}

func TestNormaliseIdempotent(t *testing.T) {
	in := "0491 570 006"
	once, err := Normalise(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := Normalise(once)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}
	if once != twice {
		t.Errorf("normalisation not idempotent: %q != %q", once, twice)
	}
}

func TestNormaliseEmpty(t *testing.T) {
	if _, err := Normalise("   "); err == nil {
		t.Error("expected error for empty input")
	}
}
