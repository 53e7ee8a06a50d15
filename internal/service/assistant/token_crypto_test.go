package assistant

import (
	"testing"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	t.Setenv(apiKeyCipherEnv, "0123456789abcdef0123456789abcdef")
	c, err := newTokenCipherFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encrypted, err := c.Encrypt("sk-test-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if encrypted == "sk-test-key" {
		t.Fatal("ciphertext should not equal plaintext")
	}
	plain, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "sk-test-key" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestTokenCipherRejectsGarbage(t *testing.T) {
	t.Setenv(apiKeyCipherEnv, "0123456789abcdef0123456789abcdef")
	c, err := newTokenCipherFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, input := range []string{"", "not base64 !!", "c2hvcnQ="} {
		if _, err := c.Decrypt(input); err == nil {
			t.Errorf("expected error for input %q", input)
		}
	}
}

func TestTokenCipherMissingEnv(t *testing.T) {
	t.Setenv(apiKeyCipherEnv, "")
	if _, err := newTokenCipherFromEnv(); err == nil {
		t.Fatal("expected error when key env is unset")
	}
}

func TestTitleFromMessage(t *testing.T) {
	cases := map[string]string{
		"":                      "New Conversation",
		"  \n  ":                "New Conversation",
		"Hello there":           "Hello there",
		"multi\nline   message": "multi line message",
	}
	for input, want := range cases {
		if got := titleFromMessage(input); got != want {
			t.Errorf("titleFromMessage(%q) = %q, want %q", input, got, want)
		}
	}

	long := titleFromMessage("word word word word word word word word word word word word word word")
	if runes := []rune(long); len(runes) != titleRuneLimit+1 {
		t.Errorf("expected truncation to %d runes plus ellipsis, got %d: %q", titleRuneLimit, len(runes), long)
	}
}
