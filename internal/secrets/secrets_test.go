package secrets

import "testing"

func TestBox(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		box, err := NewBox("hunter2")
		if err != nil {
			t.Fatalf("NewBox: %v", err)
		}
		sealed, err := box.EncryptString("webhook-secret-value")
		if err != nil {
			t.Fatalf("EncryptString: %v", err)
		}
		plain, err := box.DecryptToString(sealed)
		if err != nil {
			t.Fatalf("DecryptToString: %v", err)
		}
		if plain != "webhook-secret-value" {
			t.Errorf("got %q", plain)
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		if _, err := NewBox(""); err == nil {
			t.Fatal("expected error for empty key")
		}
	})

	t.Run("wrong key fails to open", func(t *testing.T) {
		a, _ := NewBox("key-a")
		b, _ := NewBox("key-b")
		sealed, _ := a.EncryptString("payload")
		if _, err := b.DecryptToString(sealed); err == nil {
			t.Fatal("expected authentication failure")
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		box, _ := NewBox("key")
		if _, err := box.DecryptToString([]byte{1, 2, 3}); err == nil {
			t.Fatal("expected error for short payload")
		}
	})
}
