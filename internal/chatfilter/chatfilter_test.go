package chatfilter

import "testing"

func TestCheck_NilConfigDisables(t *testing.T) {
	f := New(nil)
	result := f.Check("this is a badword test")
	if result.Violated {
		t.Error("nil-config filter should not flag violations")
	}
	if result.Filtered != "this is a badword test" {
		t.Error("nil-config filter should return the message unchanged")
	}
}

func TestCheck_DisabledFilter(t *testing.T) {
	f := New(&Config{Enabled: false, BannedWords: []string{"badword"}})
	result := f.Check("this is a badword test")
	if result.Violated {
		t.Error("disabled filter should not flag violations")
	}
	if result.Filtered != "this is a badword test" {
		t.Error("disabled filter should return the message unchanged")
	}
}

func TestCheck_NoViolation(t *testing.T) {
	f := New(&Config{Enabled: true, BannedWords: []string{"badword"}})
	result := f.Check("this is a clean message")
	if result.Violated {
		t.Error("should not flag a clean message")
	}
	if len(result.Matched) != 0 {
		t.Error("should have no matched words")
	}
}

func TestCheck_ReplaceMode(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"badword"}})
	result := f.Check("this is a badword test")
	if !result.Violated {
		t.Error("should flag the violation")
	}
	if result.Filtered != "this is a ******* test" {
		t.Errorf("expected 'this is a ******* test', got '%s'", result.Filtered)
	}
	if len(result.Matched) != 1 || result.Matched[0] != "badword" {
		t.Error("should have matched 'badword'")
	}
}

func TestCheck_BlockMode(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeBlock, BannedWords: []string{"badword"}})
	result := f.Check("this is a badword test")
	if !result.Violated {
		t.Error("should flag the violation")
	}
	// BLOCK mode leaves the text alone; the caller drops the message.
	if result.Filtered != "this is a badword test" {
		t.Errorf("BLOCK mode should not modify the message, got '%s'", result.Filtered)
	}
	if !f.IsBlockMode() {
		t.Error("IsBlockMode should be true")
	}
}

func TestCheck_CaseInsensitive(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"badword"}})

	for _, input := range []string{"BADWORD", "BadWord", "badword", "BaDwOrD"} {
		result := f.Check(input)
		if !result.Violated {
			t.Errorf("should flag '%s'", input)
		}
		if result.Filtered != "*******" {
			t.Errorf("input '%s': expected '*******', got '%s'", input, result.Filtered)
		}
	}
}

func TestCheck_WordBoundary(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"bad"}})

	if result := f.Check("this is bad"); !result.Violated {
		t.Error("should flag 'bad' as a whole word")
	}
	if result := f.Check("look at the badger"); result.Violated {
		t.Error("should not flag the partial match in 'badger'")
	}
	if result := f.Check("notbad"); result.Violated {
		t.Error("should not flag the partial match in 'notbad'")
	}
}

func TestCheck_MultipleWords(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"bad", "ugly"}})
	result := f.Check("this is bad and ugly")
	if result.Filtered != "this is *** and ****" {
		t.Errorf("expected 'this is *** and ****', got '%s'", result.Filtered)
	}
	if len(result.Matched) != 2 {
		t.Errorf("should have matched 2 words, got %d", len(result.Matched))
	}
}

func TestCheck_MultipleOccurrences(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"bad"}})
	result := f.Check("bad bad bad")
	if result.Filtered != "*** *** ***" {
		t.Errorf("expected '*** *** ***', got '%s'", result.Filtered)
	}
}

func TestCheck_PreservesPunctuation(t *testing.T) {
	f := New(&Config{Enabled: true, Mode: ModeReplace, BannedWords: []string{"bad"}})
	result := f.Check("this is bad!")
	if result.Filtered != "this is ***!" {
		t.Errorf("expected 'this is ***!', got '%s'", result.Filtered)
	}
}

func TestNew_DefaultsToReplaceMode(t *testing.T) {
	f := New(&Config{Enabled: true, BannedWords: []string{"bad"}})
	if f.IsBlockMode() {
		t.Error("unset mode should default to REPLACE")
	}
	result := f.Check("bad")
	if result.Filtered != "***" {
		t.Errorf("expected '***', got '%s'", result.Filtered)
	}
}
