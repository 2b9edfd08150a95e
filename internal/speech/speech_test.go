package speech

import "testing"

func TestParseDigitsRoundTrip(t *testing.T) {
	words := map[string]byte{
		"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
		"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	}
	for word, digit := range words {
		parsed, err := Parse(word, Digits(1))
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", word, err)
		}
		got, ok := parsed.Token.(string)
		if !ok || got != string(digit) {
			t.Errorf("Parse(%q) = %v, want %q", word, parsed.Token, string(digit))
		}
	}
}

func TestParseDigitsHomophones(t *testing.T) {
	parsed, err := Parse("won too ate for niner", Digits(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != "12849" {
		t.Errorf("got %v, want 12849", parsed.Token)
	}
}

func TestParseDigitsTeensAndTens(t *testing.T) {
	parsed, err := Parse("fourteen", Digits(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != "14" {
		t.Errorf("got %v, want 14", parsed.Token)
	}

	parsed, err = Parse("thirty four", Digits(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != "34" {
		t.Errorf("got %v, want 34", parsed.Token)
	}
}

func TestParseDigitsLengthMismatch(t *testing.T) {
	if _, err := Parse("123", Digits(4)); err == nil {
		t.Error("expected error for PIN of wrong length")
	}
}

func TestParseAlnumCodeSpokenWords(t *testing.T) {
	parsed, err := Parse("alpha bravo one two", AlnumCode(2, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != "AB12" {
		t.Errorf("got %v, want AB12", parsed.Token)
	}
}

func TestParseAlnumCodeBareLetters(t *testing.T) {
	parsed, err := Parse("A B 1 2", AlnumCode(2, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != "AB12" {
		t.Errorf("got %v, want AB12", parsed.Token)
	}
}

func TestParseAlnumCodeLengthBounds(t *testing.T) {
	if _, err := Parse("a", AlnumCode(2, 8)); err == nil {
		t.Error("expected error for 1-character code")
	}
	if _, err := Parse("a b c d e f g h i", AlnumCode(2, 8)); err == nil {
		t.Error("expected error for 9-character code")
	}
}

func TestParseYesNo(t *testing.T) {
	cases := map[string]YesNo{"yeah": Yes, "yes": Yes, "correct": Yes, "nope": No, "no": No, "wrong": No}
	for text, want := range cases {
		parsed, err := Parse(text, YesNoGrammar())
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", text, err)
		}
		if parsed.Token != want {
			t.Errorf("Parse(%q) = %v, want %v", text, parsed.Token, want)
		}
	}
}

func TestParseYesNoUnparsable(t *testing.T) {
	if _, err := Parse("maybe", YesNoGrammar()); err == nil {
		t.Error("expected error for ambiguous yes/no input")
	}
}

func TestParseActionChoice(t *testing.T) {
	parsed, err := Parse("I'd like to reschedule", ActionChoiceGrammar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Token != IntentReschedule {
		t.Errorf("got %v, want %v", parsed.Token, IntentReschedule)
	}
}

func TestParseFreeReasonNeedsMore(t *testing.T) {
	parsed, err := Parse("um", FreeReasonGrammar())
	if err == nil {
		t.Fatal("expected error for too-short reason")
	}
	if !parsed.NeedsMore {
		t.Error("expected NeedsMore for too-short reason")
	}
}

func TestParseFreeReasonCategorises(t *testing.T) {
	parsed, err := Parse("I've come down with the flu and can't drive", FreeReasonGrammar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := parsed.Token.(FreeReasonResult)
	if !ok {
		t.Fatalf("token is not FreeReasonResult: %T", parsed.Token)
	}
	if result.Category != ReasonIllness {
		t.Errorf("got category %v, want %v", result.Category, ReasonIllness)
	}
}
