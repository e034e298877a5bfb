package sha256

import "testing"

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHash(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
}

func TestHasherVerify(t *testing.T) {
	t.Parallel()

	h := New()
	ok, err := h.Verify([]byte("hello world"), helloDigest)
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v; want true", ok, err)
	}
	ok, err = h.Verify([]byte("hello world!"), helloDigest)
	if err != nil || ok {
		t.Fatalf("Verify() = %v, %v; want false", ok, err)
	}
	if _, err := h.Verify(nil, "not-hex"); err == nil {
		t.Fatal("expected error for malformed digest")
	}
}
