package accesskey

import (
	"encoding/base64"
	"reflect"
	"testing"

	"github.com/R3E-Network/integration_layer/domain/shared"
)

const validKey = "id_live_1_Q71YUIZydcgSwJQNOUCHhaTMqmIvslIafF5LluORJfJKydMGELHtYe_ydtBIrVuomEnOZ4jfZQgtkqWxtG-s7vhbyir4kNjLyHKyDyh1SDubBMlhSI7Mq-M5RVtwnwFqZiOeUkIgHJFgcGQn0Plb1AkAAAAAAAAAAAAAAAAAAAAAAMwWY_9_oDOV75noniBViOVmVPUQqzcW8G3P8nuUD6Q"

var validPassword = func() *[PasswordLength]byte {
	var p [PasswordLength]byte
	copy(p[:], "32KFFT_i4UpkJmyPwY2TGzgHpxfXs7zS")
	return &p
}()

func strPtr(s string) *string { return &s }

func fixtureKey() AccessKey {
	return AccessKey{
		Prefix: Prefix{
			Environment: shared.EnvLive,
			EventType:   EventTypeID,
			Version:     1,
		},
		Data: Data{
			ID:                "build-2e76c839f5fd419db6b34682f4cdff1e",
			Namespace:         "default",
			EventType:         "webhook",
			Group:             "my-webhook",
			EventPath:         "event.received",
			EventObjectIDPath: strPtr("foo.bar"),
			TimestampPath:     strPtr("foo.bar"),
			ParentAccessKey:   strPtr("foo.bar"),
		},
	}
}

func TestEncodeGolden(t *testing.T) {
	var iv [IVLength]byte
	encrypted, err := fixtureKey().Encode(validPassword, &iv)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	if encrypted.String() != validKey {
		t.Errorf("Encode = %q, want %q", encrypted.String(), validKey)
	}
}

func TestDecodeValidKey(t *testing.T) {
	decoded, err := Decode(validKey, validPassword)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if !reflect.DeepEqual(decoded, fixtureKey()) {
		t.Errorf("Decode = %+v, want %+v", decoded, fixtureKey())
	}
}

func TestRoundTrip(t *testing.T) {
	var iv [IVLength]byte
	copy(iv[:], "abcdefghijklmnop")

	key := fixtureKey()
	encrypted, err := key.Encode(validPassword, &iv)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	decoded, err := DecodeEncrypted(encrypted, validPassword)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if !reflect.DeepEqual(decoded, key) {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, key)
	}
}

func TestDecodeInvalidKey(t *testing.T) {
	key := "id_live_1_anJIdjhNUlMxcWRYcU1FT3FnWHJkSFE3Nlh1eEp1Y0I0UTJRdFBIR1BnU0V6ZTg5MUE0WTVseUpSVGQ3VkNQaEV0bmVicE1oMUR4WU4xYTRpczltLXBFZWE5Y05ka0ctaWxnODBPa24tU3A4ZFR5T3J1TS1GaU9PQjdhSUJDbmh6ZHp4RWpDRWJ5WUxTSVR2ZlNKSlNSU0ZvUSVaSDhUVlNXcHdnLTY4VDltcEpBMnV3JW1UV1AyVkllT3hiTEZYZGtLYXBvLVJRdXVNVEtwc1JJUFNoTTNJc21uRmN"
	if _, err := Decode(key, validPassword); err == nil {
		t.Error("Decode expected error for invalid key")
	}
}

func TestDecodeWrongPassword(t *testing.T) {
	var wrong [PasswordLength]byte
	copy(wrong[:], "vOVH6sdmpNWjRRIqCc7rdxs01lxHzfr3")
	if _, err := Decode(validKey, &wrong); err == nil {
		t.Error("Decode expected error for wrong password")
	}
}

func TestDecodeShortPayload(t *testing.T) {
	short := "id_live_1_" + base64.RawURLEncoding.EncodeToString(make([]byte, 47))
	if _, err := Decode(short, validPassword); err == nil {
		t.Error("Decode expected error for short payload")
	}
}

func TestTamperedBytesRejected(t *testing.T) {
	var iv [IVLength]byte
	encrypted, err := fixtureKey().Encode(validPassword, &iv)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encrypted.data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	// Flipping any byte of ciphertext, IV or hash must invalidate the key.
	for _, idx := range []int{0, len(raw)/2, len(raw) - HashLength - IVLength, len(raw) - HashLength, len(raw) - 1} {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[idx] ^= 0x01

		payload, err := NewEncryptedData(tampered)
		if err != nil {
			t.Fatalf("NewEncryptedData error = %v", err)
		}
		if _, err := payload.VerifyAndDecrypt(validPassword); err == nil {
			t.Errorf("byte %d flipped: expected InvalidHash", idx)
		}
	}
}

func TestTopic(t *testing.T) {
	key := AccessKey{
		Prefix: Prefix{Environment: shared.EnvLive, EventType: EventTypeID, Version: 1},
		Data: Data{
			ID:        "build-2e76c839f5fd419db6b34682f4cdff1e",
			Namespace: "default",
			EventType: "webhook",
			Group:     "my-webhook",
			EventPath: "event.received",
		},
	}
	want := "v1/build-2e76c839f5fd419db6b34682f4cdff1e.default.live.webhook.my-webhook.event.received"
	if got := key.Topic("event.received"); got != want {
		t.Errorf("Topic = %q, want %q", got, want)
	}
}

func TestDataMarshalRoundTrip(t *testing.T) {
	d := Data{
		ID:                "foo",
		Namespace:         "bar",
		EventType:         "baz",
		Group:             "qux",
		EventPath:         "quux",
		EventObjectIDPath: strPtr("quuz"),
	}
	decoded, err := UnmarshalData(d.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalData error = %v", err)
	}
	if !reflect.DeepEqual(decoded, d) {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, d)
	}
}

func TestVerifyAndDecryptGolden(t *testing.T) {
	const encoded = "Q71YUIZydcgSwJQNOUCHhaTMqmIvslIafF5LluORJfJKydMGELHtYe_ydtBIrVuomEnOZ4jfZQgtkqWxtG-s7vhbyir4kNjLyHKyDyh1SDubBMlhSI7Mq-M5RVtwnwFqZiOeUkIgHJFgcGQn0Plb1AkAAAAAAAAAAAAAAAAAAAAAAMwWY_9_oDOV75noniBViOVmVPUQqzcW8G3P8nuUD6Q"
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	payload, err := NewEncryptedData(raw)
	if err != nil {
		t.Fatalf("NewEncryptedData error = %v", err)
	}
	plaintext, err := payload.VerifyAndDecrypt(validPassword)
	if err != nil {
		t.Fatalf("VerifyAndDecrypt error = %v", err)
	}
	data, err := UnmarshalData(plaintext)
	if err != nil {
		t.Fatalf("UnmarshalData error = %v", err)
	}
	if data.ID != "build-2e76c839f5fd419db6b34682f4cdff1e" || data.EventPath != "event.received" {
		t.Errorf("unexpected decrypted data: %+v", data)
	}
}

func TestParseEncryptedPrefix(t *testing.T) {
	tests := []struct {
		key     string
		env     shared.Environment
		typ     EventType
		version uint32
		wantErr bool
	}{
		{key: "id_live_1_payload", env: shared.EnvLive, typ: EventTypeID, version: 1},
		{key: "sk_test_42_payload", env: shared.EnvTest, typ: EventTypeSecretKey, version: 42},
		{key: "id_development_7_payload", env: shared.EnvDevelopment, typ: EventTypeID, version: 7},
		{key: "sk_production_1_payload", env: shared.EnvProduction, typ: EventTypeSecretKey, version: 1},
		{key: "pk_live_1_payload", wantErr: true},
		{key: "id_staging_1_payload", wantErr: true},
		{key: "id_live_x_payload", wantErr: true},
		{key: "id_live_1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			parsed, err := ParseEncrypted(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseEncrypted(%q) expected error", tt.key)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEncrypted(%q) error = %v", tt.key, err)
			}
			if parsed.Prefix.Environment != tt.env || parsed.Prefix.EventType != tt.typ || parsed.Prefix.Version != tt.version {
				t.Errorf("ParseEncrypted(%q) = %+v", tt.key, parsed.Prefix)
			}
		})
	}
}
