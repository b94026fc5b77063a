package sid

import (
	"errors"
	"testing"

	"github.com/okulov/passport"
	"github.com/okulov/passport/checksum"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Encode("app1", "tok123", "S3cret")

	want := "Passport-app1-tok123-" + checksum.Generate(checksum.KindSession, "tok123", "S3cret")
	if s != want {
		t.Fatalf("Encode = %q, want %q", s, want)
	}

	brokerID, token, sum, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if brokerID != "app1" || token != "tok123" {
		t.Fatalf("Decode = (%q, %q)", brokerID, token)
	}
	if !Verify(token, "S3cret", sum) {
		t.Fatal("decoded checksum did not re-verify against the secret")
	}
	if Verify(token, "wrong", sum) {
		t.Fatal("decoded checksum verified against the wrong secret")
	}
}

func TestDecodeBrokerIDWithDashes(t *testing.T) {
	s := Encode("my-app_2", "deadbeef", "sec")
	brokerID, token, _, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if brokerID != "my-app_2" {
		t.Fatalf("brokerID = %q", brokerID)
	}
	if token != "deadbeef" {
		t.Fatalf("token = %q", token)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"not-a-valid-sid",
		"Passport-app1-tok123",
		"passport-app1-tok123-abcdef",
		"Passport-app1-tok 123-abcdef",
		"Passport-app1-tok123-ABCDEF", // checksum must be lowercase hex
		"Passport-app1-tok123-abcdef-extra",
	}
	for _, s := range bad {
		_, _, _, err := Decode(s)
		if !errors.Is(err, passport.ErrInvalidSessionFormat) {
			t.Fatalf("Decode(%q) = %v, want ErrInvalidSessionFormat", s, err)
		}
		if !errors.Is(err, passport.ErrInvalidSessionID) {
			t.Fatalf("Decode(%q) format error should also match the wire error", s)
		}
	}
}
