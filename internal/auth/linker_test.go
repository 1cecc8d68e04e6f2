package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/janus/internal/oauth"
	"github.com/MGallo-Code/janus/internal/store"
	"github.com/MGallo-Code/janus/internal/testutil"
)

var testProviderToken = &oauth.Token{AccessToken: "provider-at", RefreshToken: "provider-rt"}

// --- Resolve ---

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and link when neither exists", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		l := NewAccountLinker(users)

		res, err := l.Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !res.IsNew || res.WasLinked {
			t.Errorf("expected new account, got %+v", res)
		}
		u := res.User
		if u.ID.Version() != uuid.V7 {
			t.Errorf("user id: expected uuid v7, got v%d", u.ID.Version())
		}
		if u.Role != string(DefaultRole) || len(u.Permissions) == 0 {
			t.Errorf("role/permissions: %s %v", u.Role, u.Permissions)
		}
		if !u.IsVerified || !u.IsActive || u.Provider != "google" {
			t.Errorf("flags: verified=%v active=%v provider=%s", u.IsVerified, u.IsActive, u.Provider)
		}
		links := users.ProviderAccounts(u.ID)
		if len(links) != 1 || links[0].RefreshToken == nil || *links[0].RefreshToken != "provider-rt" {
			t.Errorf("provider account: got %+v", links)
		}
	})

	t.Run("unverified provider email creates an unverified user", func(t *testing.T) {
		l := NewAccountLinker(testutil.NewMockUserStore())
		id := googleIdentity()
		id.EmailVerified = false

		res, err := l.Resolve(ctx, id, oauth.Google, RoleRenter, testProviderToken)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.User.IsVerified {
			t.Error("user should not be verified")
		}
	})

	t.Run("email changed at provider signs in the link owner", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		owner := &store.User{Email: "old@x.com", Role: "RENTER", Provider: "google", IsActive: true}
		ownerID := users.AddUser(owner)
		users.AddProviderAccount(&store.ProviderAccount{UserID: ownerID, Provider: "google", ProviderID: "g-123", AccessToken: "old"})

		res, err := NewAccountLinker(users).Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.User.ID != ownerID || res.IsNew || res.WasLinked {
			t.Errorf("expected login as link owner, got %+v", res)
		}
		if users.UserCount() != 1 {
			t.Error("no user should be created")
		}
	})

	t.Run("identity linked to a different user is a conflict", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		users.AddUser(&store.User{Email: "a@x.com", Role: "RENTER", Provider: "password", IsActive: true})
		otherID := users.AddUser(&store.User{Email: "b@x.com", Role: "RENTER", Provider: "google", IsActive: true})
		users.AddProviderAccount(&store.ProviderAccount{UserID: otherID, Provider: "google", ProviderID: "g-123"})

		_, err := NewAccountLinker(users).Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if !errors.Is(err, ErrAccountConflict) {
			t.Fatalf("expected ErrAccountConflict, got %v", err)
		}
		if users.LinkCalls != 0 || users.UpdateTokenCalls != 0 {
			t.Error("conflict should not write anything")
		}
	})

	t.Run("linking a federated account keeps its primary provider", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		id := users.AddUser(&store.User{Email: "a@x.com", Role: "RENTER", Provider: "facebook", IsActive: true})

		res, err := NewAccountLinker(users).Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !res.WasLinked {
			t.Error("expected WasLinked")
		}
		if got := users.User(id); got.Provider != "facebook" || got.IsVerified {
			t.Errorf("primary provider should stay facebook and unverified, got %s/%v", got.Provider, got.IsVerified)
		}
		if len(users.ProviderAccounts(id)) != 1 {
			t.Error("expected a google link")
		}
	})

	t.Run("login without profile changes skips the profile write", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		l := NewAccountLinker(users)
		if _, err := l.Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken); err != nil {
			t.Fatalf("first Resolve: %v", err)
		}

		res, err := l.Resolve(ctx, googleIdentity(), oauth.Google, "", &oauth.Token{AccessToken: "at-2"})
		if err != nil {
			t.Fatalf("second Resolve: %v", err)
		}
		if res.IsNew || res.WasLinked {
			t.Errorf("expected plain login, got %+v", res)
		}
		if users.UpdateProfileCalls != 0 {
			t.Errorf("profile unchanged, expected no write, got %d", users.UpdateProfileCalls)
		}
		links := users.ProviderAccounts(res.User.ID)
		if links[0].AccessToken != "at-2" || links[0].RefreshToken == nil || *links[0].RefreshToken != "provider-rt" {
			t.Errorf("token refresh should keep the old refresh token: %+v", links[0])
		}
	})

	t.Run("login fills newly available profile fields", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		l := NewAccountLinker(users)
		first, _ := l.Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)

		id := googleIdentity()
		id.PhoneNumber = "+15550100"
		id.FirstName = "Changed"
		if _, err := l.Resolve(ctx, id, oauth.Google, "", testProviderToken); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got := users.User(first.User.ID)
		if got.PhoneNumber == nil || *got.PhoneNumber != "+15550100" {
			t.Error("phone number should be filled")
		}
		if *got.FirstName != "Ada" {
			t.Errorf("existing first name should win, got %s", *got.FirstName)
		}
	})

	t.Run("concurrent creation is retried as a login", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		var racerID uuid.UUID
		users.BeforeCreate = func() {
			users.BeforeCreate = nil
			racerID = users.AddUser(&store.User{Email: "a@x.com", Role: "RENTER", Provider: "google", IsActive: true})
			users.AddProviderAccount(&store.ProviderAccount{UserID: racerID, Provider: "google", ProviderID: "g-123"})
		}

		res, err := NewAccountLinker(users).Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if res.User.ID != racerID || res.IsNew {
			t.Errorf("expected login as the racing user, got %+v", res)
		}
		if users.UserCount() != 1 {
			t.Errorf("expected 1 user, got %d", users.UserCount())
		}
	})

	t.Run("store errors are wrapped", func(t *testing.T) {
		users := testutil.NewMockUserStore()
		boom := errors.New("boom")
		users.GetProviderAccountErr = boom

		_, err := NewAccountLinker(users).Resolve(ctx, googleIdentity(), oauth.Google, "", testProviderToken)
		if !errors.Is(err, boom) || errors.Is(err, ErrAccountConflict) {
			t.Errorf("expected wrapped store error, got %v", err)
		}
	})
}

// --- MergeProfile ---

func TestMergeProfile(t *testing.T) {
	t.Run("existing values win", func(t *testing.T) {
		u := &store.User{FirstName: strPtr("Local"), LastName: strPtr("Name")}
		changed := MergeProfile(u, &oauth.ExternalIdentity{FirstName: "Remote", LastName: "Other"})
		if changed || *u.FirstName != "Local" || *u.LastName != "Name" {
			t.Errorf("got changed=%v first=%s last=%s", changed, *u.FirstName, *u.LastName)
		}
	})

	t.Run("empty and blank values are filled", func(t *testing.T) {
		u := &store.User{FirstName: strPtr("  ")}
		changed := MergeProfile(u, &oauth.ExternalIdentity{FirstName: "Ada", ProfilePicURL: "https://img.test/a.png"})
		if !changed || *u.FirstName != "Ada" || u.ProfilePicURL == nil {
			t.Errorf("got changed=%v %+v", changed, u)
		}
	})

	t.Run("empty provider values never clear local ones", func(t *testing.T) {
		u := &store.User{}
		if MergeProfile(u, &oauth.ExternalIdentity{}) {
			t.Error("nothing to merge")
		}
		if u.FirstName != nil || u.PhoneNumber != nil {
			t.Error("fields should stay nil")
		}
	})
}

// --- UpgradePrimaryProvider ---

func TestUpgradePrimaryProvider(t *testing.T) {
	t.Run("password account moves to provider and is verified", func(t *testing.T) {
		u := &store.User{Provider: store.PasswordProvider}
		if !UpgradePrimaryProvider(u, oauth.LinkedIn) {
			t.Fatal("expected upgrade")
		}
		if u.Provider != "linkedin" || !u.IsVerified {
			t.Errorf("got provider=%s verified=%v", u.Provider, u.IsVerified)
		}
	})

	t.Run("federated account is untouched", func(t *testing.T) {
		u := &store.User{Provider: "google"}
		if UpgradePrimaryProvider(u, oauth.Facebook) || u.Provider != "google" || u.IsVerified {
			t.Errorf("got %+v", u)
		}
	})
}
