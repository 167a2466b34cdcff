package controllers

import (
	"errors"
	"testing"

	"github.com/cppla/updoot/config"
	"github.com/cppla/updoot/utils"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name   string
		fields []inputField
		want   []string
	}{
		{"valid", []inputField{{"username", "bob"}, {"email", "b@x"}, {"password", "pw1"}}, nil},
		{"short", []inputField{{"username", "bo"}, {"password", "pw"}}, []string{"username", "password"}},
		{"short email is fine", []inputField{{"email", "@"}}, nil},
		{"spaces", []inputField{{"password", "a b c"}}, []string{"password"}},
		{"email without at", []inputField{{"email", "bob.example.com"}}, []string{"email"}},
		{"username with at", []inputField{{"username", "bob@home"}}, []string{"username"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validateInput(tt.fields...)
			if len(got) != len(tt.want) {
				t.Fatalf("errors = %+v, want fields %v", got, tt.want)
			}
			for i, f := range tt.want {
				if got[i].Field != f {
					t.Errorf("error %d field = %s, want %s", i, got[i].Field, f)
				}
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	config.Set(config.AppConfig{JWTSecret: "x"})
	tests := []struct {
		raw     string
		want    int
		invalid bool
	}{
		{"", 10, false},
		{"5", 5, false},
		{"50", 50, false},
		{"51", 50, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLimit(tt.raw)
		if tt.invalid {
			if !errors.Is(err, utils.ErrValidation) {
				t.Errorf("parseLimit(%q) err = %v, want validation", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseLimit(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}
	for _, raw := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(raw); !errors.Is(err, utils.ErrValidation) {
			t.Errorf("parseID(%q) err = %v", raw, err)
		}
	}
}
