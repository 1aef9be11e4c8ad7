package shared

import (
	"encoding/json"
	"testing"
)

func TestEnvironmentRoundTrip(t *testing.T) {
	for _, spelling := range []string{"test", "development", "live", "production"} {
		env, err := ParseEnvironment(spelling)
		if err != nil {
			t.Fatalf("ParseEnvironment(%q) error = %v", spelling, err)
		}
		if env.String() != spelling {
			t.Errorf("round trip %q -> %q", spelling, env.String())
		}

		data, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("Marshal error = %v", err)
		}
		var decoded Environment
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Unmarshal error = %v", err)
		}
		if decoded != env {
			t.Errorf("json round trip %q -> %q", env, decoded)
		}
	}
}

func TestEnvironmentRejectsUnknown(t *testing.T) {
	for _, s := range []string{"", "staging", "prod", "Live"} {
		if _, err := ParseEnvironment(s); err == nil {
			t.Errorf("ParseEnvironment(%q) expected error", s)
		}
	}

	var env Environment
	if err := json.Unmarshal([]byte(`"staging"`), &env); err == nil {
		t.Error("Unmarshal expected error for unknown environment")
	}
}

func TestIsProductionLike(t *testing.T) {
	if !EnvLive.IsProductionLike() || !EnvProduction.IsProductionLike() {
		t.Error("live and production are production-like")
	}
	if EnvTest.IsProductionLike() || EnvDevelopment.IsProductionLike() {
		t.Error("test and development are not production-like")
	}
}

func TestNewOwnership(t *testing.T) {
	o := NewOwnership("build-1")
	if o.ID != "build-1" || o.ClientID != "build-1" {
		t.Errorf("ownership = %+v", o)
	}
	if o.OrganizationID == nil || *o.OrganizationID != "build-1" {
		t.Errorf("organization = %v", o.OrganizationID)
	}
}

func TestRecordMetadataLifecycle(t *testing.T) {
	m := NewRecordMetadata()
	if m.Deleted || !m.Active || m.Version != "1.0.0" {
		t.Fatalf("fresh metadata = %+v", m)
	}

	m.MarkUpdated("tester")
	if !m.Updated || m.Version != "1.0.1" || m.LastModifiedBy != "tester" {
		t.Errorf("after update = %+v", m)
	}
	if len(m.ChangeLog) != 1 {
		t.Errorf("change log = %v", m.ChangeLog)
	}

	m.MarkDeleted("tester")
	if !m.Deleted {
		t.Error("MarkDeleted did not set the flag")
	}
	m.MarkUndeleted("tester")
	if m.Deleted {
		t.Error("MarkUndeleted did not clear the flag")
	}

	m.MarkInactive("tester")
	if m.Active {
		t.Error("MarkInactive did not clear the flag")
	}
	m.MarkDeprecated("tester")
	if !m.Deprecated {
		t.Error("MarkDeprecated did not set the flag")
	}

	m.AddTag("migration")
	if len(m.Tags) != 1 || m.Tags[0] != "migration" {
		t.Errorf("tags = %v", m.Tags)
	}
}
