package runtime

import (
	"encoding/json"
	"testing"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() = %v, want nil", err)
	}
}

func TestWithMethodsReturnCopies(t *testing.T) {
	base := DefaultPolicy()
	ram := int64(1024)
	derived := base.WithRAM(&ram).WithCompute(High())

	if base.RAM != nil {
		t.Fatalf("base.RAM mutated: %v", base.RAM)
	}
	if base.Compute.AsFuel() != Low().AsFuel() {
		t.Fatalf("base.Compute mutated to %d", base.Compute.AsFuel())
	}
	if derived.Compute.AsFuel() != High().AsFuel() {
		t.Fatalf("derived.Compute = %d, want High", derived.Compute.AsFuel())
	}
}

func TestWithNameIgnoresEmpty(t *testing.T) {
	p := DefaultPolicy().WithName("custom").WithName("")
	if p.Name != "custom" {
		t.Fatalf("Name = %q, want %q", p.Name, "custom")
	}
}

func TestWithMaxRetriesIgnoresNegative(t *testing.T) {
	p := DefaultPolicy().WithMaxRetries(5).WithMaxRetries(-1)
	if p.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", p.MaxRetries)
	}
}

func TestValidateRejectsNegativeMaxRetries(t *testing.T) {
	p := Policy{Name: "bad", Compute: Low(), MaxRetries: -1}
	if err := p.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for negative max_retries")
	}
}

func TestValidateRejectsNonPositiveRAM(t *testing.T) {
	ram := int64(0)
	p := DefaultPolicy().WithRAM(&ram)
	if err := p.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for zero RAM ceiling")
	}
}

func TestValidateRejectsMalformedEnvVar(t *testing.T) {
	p := DefaultPolicy().WithEnvVars([]string{"NOT_KEY_VALUE"})
	if err := p.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for malformed env var")
	}
}

func TestComputeJSONRoundTrip(t *testing.T) {
	for _, c := range []Compute{Low(), Medium(), High(), Custom(42)} {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", c, err)
		}
		var got Compute
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", data, err)
		}
		if got.AsFuel() != c.AsFuel() {
			t.Fatalf("round trip %s: got fuel %d, want %d", data, got.AsFuel(), c.AsFuel())
		}
	}
}

func TestComputeUnmarshalRejectsInvalid(t *testing.T) {
	var c Compute
	if err := json.Unmarshal([]byte(`"ultra"`), &c); err == nil {
		t.Fatal("Unmarshal(\"ultra\") = nil, want error")
	}
}
