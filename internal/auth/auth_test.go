package auth

import "testing"

func newTestService() *Service {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	service.RegisterAPICredentials(TestAdminAPIKey, TestAdminAPISecret, "shop", "admin")
	return service
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := newTestService()

	token, err := service.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token.Token == "" {
		t.Fatal("empty token returned")
	}

	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.CustomerID != TestAPIKey {
		t.Errorf("customer ID = %q, want %q", claims.CustomerID, TestAPIKey)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "shop" {
		t.Errorf("permissions = %v, want [shop]", claims.Permissions)
	}
}

func TestGenerateTokenAdminPermissions(t *testing.T) {
	service := newTestService()

	token, err := service.GenerateToken(Credentials{APIKey: TestAdminAPIKey, APISecret: TestAdminAPISecret})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	hasAdmin := false
	for _, p := range claims.Permissions {
		if p == "admin" {
			hasAdmin = true
		}
	}
	if !hasAdmin {
		t.Errorf("permissions = %v, want admin included", claims.Permissions)
	}
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	service := newTestService()

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong secret", Credentials{APIKey: TestAPIKey, APISecret: "nope"}},
		{"unknown key", Credentials{APIKey: "ghost", APISecret: TestAPISecret}},
		{"empty", Credentials{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.GenerateToken(tt.creds); err != ErrInvalidCredentials {
				t.Errorf("got %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	service := newTestService()
	other := NewService("different-secret")
	other.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := other.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := service.ValidateToken(token.Token); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	service := newTestService()

	if _, err := service.ValidateToken("not-a-jwt"); err == nil {
		t.Error("malformed token was accepted")
	}
}
