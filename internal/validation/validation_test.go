package validation

import (
	"errors"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
		valid bool
	}{
		{
			name:  "mixed case is lowered",
			email: "  Ana.Cruz@Example.COM ",
			want:  "ana.cruz@example.com",
			valid: true,
		},
		{
			name:  "missing domain",
			email: "ana@",
			valid: false,
		},
		{
			name:  "empty string",
			email: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEmail(tt.email)
			if tt.valid {
				if err != nil {
					t.Fatalf("NormalizeEmail(%q) error = %v", tt.email, err)
				}
				if got != tt.want {
					t.Fatalf("NormalizeEmail(%q) = %q, want %q", tt.email, got, tt.want)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("NormalizeEmail(%q) error = %v, want ErrInvalid", tt.email, err)
			}
		})
	}
}

func TestIsValidMobile(t *testing.T) {
	tests := []struct {
		mobile string
		valid  bool
	}{
		{"09171234567", true},
		{"+639171234567", true},
		{"12345", false},
		{"0917-123-4567", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidMobile(tt.mobile); got != tt.valid {
			t.Fatalf("IsValidMobile(%q) = %v, want %v", tt.mobile, got, tt.valid)
		}
	}
}

func TestIsValidReference(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
	}{
		{"1234567890123", true},
		{"GC-2024-0001", true},
		{"abc", false},
		{"ref with spaces", false},
	}

	for _, tt := range tests {
		if got := IsValidReference(tt.ref); got != tt.valid {
			t.Fatalf("IsValidReference(%q) = %v, want %v", tt.ref, got, tt.valid)
		}
	}
}

func TestStruct(t *testing.T) {
	type enrollment struct {
		Email    string `validate:"required,email"`
		FullName string `validate:"required"`
		Mobile   string `validate:"omitempty,mobile"`
	}

	if err := Struct(enrollment{Email: "ana@example.com", FullName: "Ana"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	err := Struct(enrollment{Email: "ana@example.com", Mobile: "12"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
}
