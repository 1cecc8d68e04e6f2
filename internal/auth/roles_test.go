package auth

import (
	"errors"
	"testing"
)

// --- ParseRole ---

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", DefaultRole, false},
		{"renter", RoleRenter, false},
		{" Landlord ", RoleLandlord, false},
		{"AGENT", RoleAgent, false},
		{"ADMIN", "", true},
		{"superuser", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRole) {
					t.Errorf("expected ErrInvalidRole, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

// --- PermissionsForRole ---

func TestPermissionsForRole(t *testing.T) {
	t.Run("returns a copy", func(t *testing.T) {
		p := PermissionsForRole(RoleRenter)
		p[0] = "tampered"
		if PermissionsForRole(RoleRenter)[0] == "tampered" {
			t.Error("caller mutation leaked into the role table")
		}
	})

	t.Run("admin has wildcard", func(t *testing.T) {
		p := PermissionsForRole(RoleAdmin)
		if len(p) != 1 || p[0] != "*" {
			t.Errorf("got %v", p)
		}
	})

	t.Run("unknown role has none", func(t *testing.T) {
		if p := PermissionsForRole("GHOST"); len(p) != 0 {
			t.Errorf("got %v", p)
		}
	})
}
