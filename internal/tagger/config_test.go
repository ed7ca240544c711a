package tagger

import (
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte(`{"platforms": ["itunes"], "path": "/music"}`))
	if err != nil {
		t.Fatal(err)
	}
	if config.Strictness != 0.8 {
		t.Errorf("strictness = %f", config.Strictness)
	}
	if config.MinAccuracy != 0.8 {
		t.Errorf("min_accuracy = %f", config.MinAccuracy)
	}
	if config.BPMTolerance != 2 {
		t.Errorf("bpm_tolerance = %d", config.BPMTolerance)
	}
	if config.MaxRetries != 2 {
		t.Errorf("max_retries = %d", config.MaxRetries)
	}
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"no platforms", `{"platforms": [], "path": "/m"}`, "no platforms"},
		{"bad strictness", `{"platforms": ["itunes"], "strictness": 1.5}`, "strictness"},
		{"bad accuracy", `{"platforms": ["itunes"], "min_accuracy": -1}`, "min_accuracy"},
		{"bad json", `{`, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.json))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestCustomString(t *testing.T) {
	config, err := ParseConfig([]byte(`{
		"platforms": ["beatport"],
		"custom": {"beatport": {"access_token": "secret", "max_pages": 3}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := config.CustomString("beatport", "access_token"); !ok || v != "secret" {
		t.Errorf("access_token = %q, %t", v, ok)
	}
	if _, ok := config.CustomString("beatport", "missing"); ok {
		t.Error("missing key reported present")
	}
	if _, ok := config.CustomString("beatport", "max_pages"); ok {
		t.Error("non-string value reported as string")
	}
}

func TestTrackValidate(t *testing.T) {
	track := Track{PlatformID: "itunes", Title: "x", Artists: []string{"a"}}
	if err := track.Validate(); err != nil {
		t.Errorf("valid track rejected: %v", err)
	}
	if err := (&Track{Title: "x", Artists: []string{"a"}}).Validate(); err == nil {
		t.Error("missing platform accepted")
	}
	if err := (&Track{PlatformID: "p", Title: "x"}).Validate(); err == nil {
		t.Error("missing artists accepted")
	}
}
