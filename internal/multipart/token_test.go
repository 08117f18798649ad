package multipart

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestCodec(t *testing.T) (*TokenCodec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := NewTokenCodec(testSecret, clock.Now)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec, clock
}

var sampleClaims = PartClaims{
	OwnerID:    "user-1",
	ObjectKey:  "files/user-1/1700000000000-abc.bin",
	UploadID:   "upload/with/slashes",
	PartNumber: 7,
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec, clock := newTestCodec(t)

	token, err := codec.Issue(sampleClaims, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token %q is not unpadded base64url", token)
	}

	auth, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if auth.PartClaims != sampleClaims {
		t.Errorf("claims = %+v, want %+v", auth.PartClaims, sampleClaims)
	}
	if want := clock.t.Add(10 * time.Minute); !auth.ExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want %v", auth.ExpiresAt, want)
	}
}

// tamper decodes token, applies fn to the envelope fields and re-encodes it.
func tamper(t *testing.T, token string, fn func(m map[string]any)) string {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fn(m)
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

func TestTokenCodec_SingleFieldTamper(t *testing.T) {
	codec, _ := newTestCodec(t)
	token, err := codec.Issue(sampleClaims, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name string
		edit func(m map[string]any)
	}{
		{"owner", func(m map[string]any) { m["owner_id"] = "user-2" }},
		{"key", func(m map[string]any) { m["key"] = "files/user-2/other.bin" }},
		{"upload id", func(m map[string]any) { m["upload_id"] = "upload/with/slashez" }},
		{"part number", func(m map[string]any) { m["part_number"] = 8 }},
		{"expiry", func(m map[string]any) { m["expires"] = m["expires"].(float64) + 1 }},
		{"boundary shift", func(m map[string]any) {
			m["owner_id"] = "user-1files/user-1"
			m["key"] = "/1700000000000-abc.bin"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tamper(t, token, tt.edit))
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	codec, clock := newTestCodec(t)
	token, err := codec.Issue(sampleClaims, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.t = clock.t.Add(time.Minute)
	if _, err := codec.Verify(token); err != nil {
		t.Errorf("Verify at exact expiry = %v, want success", err)
	}

	clock.t = clock.t.Add(time.Millisecond)
	if _, err := codec.Verify(token); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify after expiry = %v, want ErrExpired", err)
	}
}

func TestTokenCodec_TamperedExpiredReportsSignature(t *testing.T) {
	codec, clock := newTestCodec(t)
	token, err := codec.Issue(sampleClaims, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.t = clock.t.Add(time.Hour)
	forged := tamper(t, token, func(m map[string]any) { m["part_number"] = 1 })
	if _, err := codec.Verify(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify = %v, want ErrInvalidSignature", err)
	}
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec, _ := newTestCodec(t)
	token, err := codec.Issue(sampleClaims, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := map[string]string{
		"empty":          "",
		"not base64":     "!!!not-base64!!!",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"missing owner":  tamper(t, token, func(m map[string]any) { delete(m, "owner_id") }),
		"missing key":    tamper(t, token, func(m map[string]any) { m["key"] = "" }),
		"zero part":      tamper(t, token, func(m map[string]any) { m["part_number"] = 0 }),
		"zero expiry":    tamper(t, token, func(m map[string]any) { m["expires"] = 0 }),
		"no signature":   tamper(t, token, func(m map[string]any) { m["signature"] = "" }),
		"hex garbage":    tamper(t, token, func(m map[string]any) { m["signature"] = "zz" }),
		"unknown field":  tamper(t, token, func(m map[string]any) { m["admin"] = true }),
		"wrong type":     tamper(t, token, func(m map[string]any) { m["part_number"] = "7" }),
		"padded base64":  base64.URLEncoding.EncodeToString([]byte(`{"owner_id":"a"}`)),
		"truncated json": token[:len(token)/2],
	}

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Verify(tok); !errors.Is(err, ErrMalformed) {
				t.Errorf("Verify = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestTokenCodec_DifferentSecretsDoNotVerify(t *testing.T) {
	a, _ := newTestCodec(t)
	b, err := NewTokenCodec([]byte("fedcba9876543210fedcba9876543210"), nil)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	token, err := a.Issue(sampleClaims, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify with other secret = %v, want ErrInvalidSignature", err)
	}
}

func TestNewTokenCodec_ShortSecret(t *testing.T) {
	if _, err := NewTokenCodec([]byte("too-short"), nil); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestTokenCodec_IssueRejectsIncompleteClaims(t *testing.T) {
	codec, _ := newTestCodec(t)
	claims := sampleClaims
	claims.PartNumber = 0
	if _, err := codec.Issue(claims, time.Minute); !errors.Is(err, ErrMalformed) {
		t.Errorf("Issue = %v, want ErrMalformed", err)
	}
}
