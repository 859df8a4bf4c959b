package runtime

import "testing"

func TestScheduleConfigToPolicyDefaults(t *testing.T) {
	var cfg scheduleConfig
	p := cfg.toPolicy()

	if p.Compute.AsFuel() != DefaultPolicy().Compute.AsFuel() {
		t.Fatalf("zero-value config changed Compute to %d", p.Compute.AsFuel())
	}
	if p.RAM != nil {
		t.Fatal("zero-value config set a RAM ceiling")
	}
	if p.MaxRetries != DefaultPolicy().MaxRetries {
		t.Fatalf("MaxRetries = %d, want default %d", p.MaxRetries, DefaultPolicy().MaxRetries)
	}
}

func TestScheduleConfigToPolicyOverrides(t *testing.T) {
	compute := "high"
	ram := int64(4096)
	timeout := int64(500)
	retries := 3

	cfg := scheduleConfig{
		Compute:      &compute,
		RAM:          &ram,
		Timeout:      &timeout,
		MaxRetries:   &retries,
		EnvVars:      []string{"FOO=bar"},
		AllowedFiles: []string{"."},
		AllowedHosts: []string{"*.example.com"},
	}

	p := cfg.toPolicy()

	if p.Compute.AsFuel() != High().AsFuel() {
		t.Fatalf("Compute = %d, want High", p.Compute.AsFuel())
	}
	if p.RAM == nil || *p.RAM != ram {
		t.Fatalf("RAM = %v, want %d", p.RAM, ram)
	}
	if p.Timeout == nil || *p.Timeout != timeout {
		t.Fatalf("Timeout = %v, want %d", p.Timeout, timeout)
	}
	if p.MaxRetries != retries {
		t.Fatalf("MaxRetries = %d, want %d", p.MaxRetries, retries)
	}
	if len(p.EnvVars) != 1 || p.EnvVars[0] != "FOO=bar" {
		t.Fatalf("EnvVars = %v", p.EnvVars)
	}
	if len(p.AllowedHosts) != 1 || p.AllowedHosts[0] != "*.example.com" {
		t.Fatalf("AllowedHosts = %v", p.AllowedHosts)
	}
}

func TestScheduleConfigToPolicyIgnoresUnknownComputeTier(t *testing.T) {
	compute := "ludicrous"
	cfg := scheduleConfig{Compute: &compute}
	p := cfg.toPolicy()

	if p.Compute.AsFuel() != DefaultPolicy().Compute.AsFuel() {
		t.Fatalf("unknown tier changed Compute to %d", p.Compute.AsFuel())
	}
}
