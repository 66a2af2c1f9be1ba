package sdk

import (
	"bytes"
	"crypto/subtle"
	"strings"
	"testing"

	"github.com/and161185/gk-unlock/internal/model"
)

// fastKdf is the cheapest accepted configuration.
var fastKdf = model.KdfConfig{Type: model.KdfTypeArgon2id, Iterations: 2, Memory: 16, Parallelism: 1}

func TestRand_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := Rand(n)
	if err != nil {
		t.Fatalf("Rand: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := Rand(n)
	if bytes.Equal(a, b) {
		t.Fatalf("Rand produced equal slices")
	}
}

func TestDeriveMasterKey_DeterministicAndInputDependent(t *testing.T) {
	t.Parallel()
	k1, err := DeriveMasterKey("secret-pass", "alice@example.com", fastKdf)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	k2, _ := DeriveMasterKey("secret-pass", "alice@example.com", fastKdf)
	if subtle.ConstantTimeCompare(k1, k2) != 1 {
		t.Fatalf("DeriveMasterKey not deterministic")
	}
	other, _ := DeriveMasterKey("secret-pass", "bob@example.com", fastKdf)
	if subtle.ConstantTimeCompare(k1, other) != 0 {
		t.Fatalf("DeriveMasterKey must change with salt")
	}
	other, _ = DeriveMasterKey("other", "alice@example.com", fastKdf)
	if subtle.ConstantTimeCompare(k1, other) != 0 {
		t.Fatalf("DeriveMasterKey must change with password")
	}
	slower := fastKdf
	slower.Iterations = 3
	other, _ = DeriveMasterKey("secret-pass", "alice@example.com", slower)
	if subtle.ConstantTimeCompare(k1, other) != 0 {
		t.Fatalf("DeriveMasterKey must change with kdf params")
	}
}

func TestDeriveMasterKey_PBKDF2(t *testing.T) {
	t.Parallel()
	k, err := DeriveMasterKey("pw", "salt", model.DefaultKdfConfig())
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	if len(k) != KeyLen {
		t.Fatalf("len=%d", len(k))
	}
}

func TestDeriveMasterKey_RejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := DeriveMasterKey("pw", "salt", model.KdfConfig{Type: model.KdfTypePBKDF2SHA256, Iterations: 1}); err == nil {
		t.Fatalf("want error on weak kdf")
	}
	if _, err := DeriveMasterKey("pw", "", fastKdf); err == nil {
		t.Fatalf("want error on empty salt")
	}
}

func TestHashMasterKey_PurposesDiffer(t *testing.T) {
	t.Parallel()
	mk, _ := DeriveMasterKey("pw", "salt", fastKdf)
	server, err := HashMasterKey(mk, "pw", HashServerAuthorization)
	if err != nil {
		t.Fatalf("HashMasterKey: %v", err)
	}
	local, _ := HashMasterKey(mk, "pw", HashLocalAuthorization)
	if server == local {
		t.Fatalf("server and local hashes must differ")
	}
	again, _ := HashMasterKey(mk, "pw", HashServerAuthorization)
	if again != server {
		t.Fatalf("hash not deterministic")
	}
	if _, err := HashMasterKey(mk[:5], "pw", HashServerAuthorization); err == nil {
		t.Fatalf("want error on short master key")
	}
	if _, err := HashMasterKey(mk, "pw", HashPurpose(9)); err == nil {
		t.Fatalf("want error on unknown purpose")
	}
}

func TestEncryptDecryptString_Roundtrip(t *testing.T) {
	t.Parallel()
	key, _ := Rand(KeyLen)
	pt := []byte("top secret payload \x00\x01\x02")
	s, err := EncryptString(key, pt)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if !strings.HasPrefix(string(s), "7.") {
		t.Fatalf("unexpected enc string %q", s)
	}
	got, err := DecryptString(key, s)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch")
	}

	key2, _ := Rand(KeyLen)
	if _, err := DecryptString(key2, s); err == nil {
		t.Fatalf("wrong key should error")
	}
	if _, err := DecryptString(key, "2.abc"); err == nil {
		t.Fatalf("unknown type should error")
	}
	if _, err := DecryptString(key, "7.!!!"); err == nil {
		t.Fatalf("bad base64 should error")
	}
	if _, err := DecryptString(key, "7.AAAA"); err == nil {
		t.Fatalf("short blob should error")
	}
}

func TestWrapUnwrapUserKey(t *testing.T) {
	t.Parallel()
	mk, _ := DeriveMasterKey("pw", "salt", fastKdf)
	uk, _ := Rand(KeyLen)

	wrapped, err := WrapUserKey(mk, uk)
	if err != nil {
		t.Fatalf("WrapUserKey: %v", err)
	}
	out, err := UnwrapUserKey(mk, wrapped)
	if err != nil {
		t.Fatalf("UnwrapUserKey: %v", err)
	}
	if subtle.ConstantTimeCompare(out, uk) != 1 {
		t.Fatalf("unwrap != original")
	}

	bad, _ := DeriveMasterKey("pw2", "salt", fastKdf)
	if _, err := UnwrapUserKey(bad, wrapped); err == nil {
		t.Fatalf("UnwrapUserKey with wrong master key must fail")
	}
}
