package sudp

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	plain := []byte("$SR Alice song.mp3\x055242880 3/5\x05TTH:ABCDEFGHIJKLMNOPQRSTUVWXYZ234567ABCDEFGHIJKL (1.2.3.4:412)|")
	ct, err := Encrypt(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	got, err := TryDecrypt(key, ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(plain) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestTrialDecryptFindsCorrectKey(t *testing.T) {
	k1, _ := NewKey()
	k2, _ := NewKey()
	k3, _ := NewKey()
	plain := []byte("hello")
	ct, _ := Encrypt(k2, plain)

	got, ok := TrialDecrypt([][KeySize]byte{k1, k2, k3}, ct)
	if !ok {
		t.Fatal("expected trial decrypt to succeed")
	}
	if string(got) != "hello" {
		t.Fatalf("unexpected plaintext: %q", got)
	}
}

func TestTrialDecryptFailsWithWrongKeys(t *testing.T) {
	k1, _ := NewKey()
	k2, _ := NewKey()
	plain := []byte("hello")
	ct, _ := Encrypt(k1, plain)

	if _, ok := TrialDecrypt([][KeySize]byte{k2}, ct); ok {
		t.Fatal("expected trial decrypt to fail without the right key")
	}
}

func TestKeyRegistryRoundTripAndPrune(t *testing.T) {
	r := NewKeyRegistry()
	key, _ := NewKey()
	unregister := r.Register(key, "search-token-1")

	ct, err := Encrypt(key, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	plain, token, ok := r.TryDecryptAny(ct)
	if !ok || token != "search-token-1" || string(plain) != "hello" {
		t.Fatalf("unexpected result: ok=%v token=%q plain=%q", ok, token, plain)
	}

	unregister()
	if _, _, ok := r.TryDecryptAny(ct); ok {
		t.Fatal("expected TryDecryptAny to miss after the key was pruned")
	}
}

func TestKeyRegistryMissOnUnknownCiphertext(t *testing.T) {
	r := NewKeyRegistry()
	key, _ := NewKey()
	r.Register(key, "tok")

	otherKey, _ := NewKey()
	ct, _ := Encrypt(otherKey, []byte("hello"))
	if _, _, ok := r.TryDecryptAny(ct); ok {
		t.Fatal("expected no match for ciphertext encrypted under an unregistered key")
	}
}
