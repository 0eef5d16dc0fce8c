package validation

import (
	"strings"
	"testing"
)

func TestSanitizeVaultName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Acme-CRM", "Acme-CRM"},
		{"spaces kept", "Acme CRM 2024", "Acme CRM 2024"},
		{"underscore", "stores_north", "stores_north"},
		{"extension dropped", "crm-data.enc", "crm-data"},
		{"path separators removed", "../etc/passwd", "etcpasswd"},
		{"punctuation removed", "Acme, Inc.!", "Acme Inc"},
		{"whitespace collapsed", "  Acme \t  CRM  ", "Acme CRM"},
		{"accented letters kept", "Lojas São Paulo", "Lojas São Paulo"},
		{"nothing left", "../..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeVaultName(tt.in); got != tt.want {
				t.Errorf("SanitizeVaultName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVaultName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "valid name",
			input:   "Acme-CRM",
			wantErr: nil,
		},
		{
			name:    "valid with spaces",
			input:   "North Stores",
			wantErr: nil,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: ErrVaultNameEmpty,
		},
		{
			name:    "whitespace only",
			input:   "   ",
			wantErr: ErrVaultNameEmpty,
		},
		{
			name:    "too long",
			input:   strings.Repeat("a", 101),
			wantErr: ErrVaultNameTooLong,
		},
		{
			name:    "max length",
			input:   strings.Repeat("a", 100),
			wantErr: nil,
		},
		{
			name:    "slash",
			input:   "a/b",
			wantErr: ErrVaultNameInvalidChars,
		},
		{
			name:    "leading space",
			input:   " Acme",
			wantErr: ErrVaultNameInvalidChars,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VaultName(tt.input)
			if err != tt.wantErr {
				t.Errorf("VaultName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	if err := Password(nil); err != ErrPasswordEmpty {
		t.Errorf("Password(nil) = %v, want %v", err, ErrPasswordEmpty)
	}
	if err := Password([]byte("Sup3rSecret!")); err != nil {
		t.Errorf("Password() = %v, want nil", err)
	}
}
