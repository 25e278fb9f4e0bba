package admin

import (
	"context"
	"testing"
	"time"

	domain "github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/storage"
	"github.com/reviewgame/server/internal/app/storage/memory"
	svcerrors "github.com/reviewgame/server/internal/errors"
)

func newFixture(t *testing.T) (*Service, *memory.Store, profile.Profile, profile.Profile) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	adm, err := store.CreateProfile(ctx, profile.Profile{
		ID:    "admin-1",
		Email: "admin@school.test",
		Role:  profile.RoleAdmin,
		Tier:  profile.TierPlus,
	})
	if err != nil {
		t.Fatalf("create admin profile: %v", err)
	}
	teacher, err := store.CreateProfile(ctx, profile.Profile{
		ID:        "teacher-1",
		Email:     "teacher@school.test",
		Role:      profile.RoleTeacher,
		Tier:      profile.TierFree,
		GameLimit: profile.TierFree.DefaultGameLimit(),
	})
	if err != nil {
		t.Fatalf("create teacher profile: %v", err)
	}

	return New(store, store, nil), store, adm, teacher
}

func requireCode(t *testing.T, err error, code svcerrors.ErrorCode) {
	t.Helper()
	se := svcerrors.GetServiceError(err)
	if se == nil {
		t.Fatalf("expected service error %s, got %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, se.Code, se.Message)
	}
}

func TestUpdateUser(t *testing.T) {
	svc, _, adm, teacher := newFixture(t)
	ctx := context.Background()

	tier := string(profile.TierPlus)
	updated, err := svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{Tier: &tier})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.Tier != profile.TierPlus {
		t.Fatalf("expected plus tier, got %s", updated.Tier)
	}
	// Tier change without an explicit limit resets to the tier default.
	if updated.GameLimit != profile.TierPlus.DefaultGameLimit() {
		t.Fatalf("expected limit %d, got %d", profile.TierPlus.DefaultGameLimit(), updated.GameLimit)
	}

	limit := 7
	updated, err = svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{GameLimit: &limit})
	if err != nil {
		t.Fatalf("update limit: %v", err)
	}
	if updated.GameLimit != 7 {
		t.Fatalf("expected limit 7, got %d", updated.GameLimit)
	}

	bad := "superuser"
	_, err = svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{Role: &bad})
	requireCode(t, err, svcerrors.CodeInvalidInput)

	negative := -1
	_, err = svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{GameLimit: &negative})
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{})
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = svc.UpdateUser(ctx, adm.ID, "no-such-user", UserUpdate{GameLimit: &limit})
	requireCode(t, err, svcerrors.CodeNotFound)

	entries, total, err := svc.ListAudit(ctx, storage.AuditFilter{AdminID: adm.ID, Action: "user.update"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 audit entries, got %d", total)
	}
	if entries[0].TargetID != teacher.ID {
		t.Fatalf("audit entry targets %s", entries[0].TargetID)
	}
}

func TestDeleteUser(t *testing.T) {
	svc, _, adm, teacher := newFixture(t)
	ctx := context.Background()

	err := svc.DeleteUser(ctx, adm.ID, adm.ID)
	requireCode(t, err, svcerrors.CodeConflict)

	if err := svc.DeleteUser(ctx, adm.ID, teacher.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	_, err = svc.GetUser(ctx, teacher.ID)
	requireCode(t, err, svcerrors.CodeNotFound)

	err = svc.DeleteUser(ctx, adm.ID, teacher.ID)
	requireCode(t, err, svcerrors.CodeNotFound)
}

func TestImpersonationLifecycle(t *testing.T) {
	svc, _, adm, teacher := newFixture(t)
	ctx := context.Background()

	_, err := svc.Impersonate(ctx, adm.ID, teacher.ID, "")
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = svc.Impersonate(ctx, adm.ID, adm.ID, "debugging my own account")
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, err = svc.Impersonate(ctx, adm.ID, "no-such-user", "support ticket 441")
	requireCode(t, err, svcerrors.CodeNotFound)

	sess, err := svc.Impersonate(ctx, adm.ID, teacher.ID, "support ticket 441")
	if err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if sess.TargetUserID != teacher.ID || sess.AdminID != adm.ID {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("session already expired: %v", sess.ExpiresAt)
	}

	// One live session per admin.
	_, err = svc.Impersonate(ctx, adm.ID, teacher.ID, "second window")
	requireCode(t, err, svcerrors.CodeConflict)

	got, active, err := svc.ImpersonationStatus(ctx, adm.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !active || got.ID != sess.ID {
		t.Fatalf("expected live session %s, got %+v active=%v", sess.ID, got, active)
	}

	resolved, err := svc.ResolveImpersonation(ctx, adm.ID, sess.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.TargetUserID != teacher.ID {
		t.Fatalf("resolved wrong target %s", resolved.TargetUserID)
	}

	_, err = svc.ResolveImpersonation(ctx, "other-admin", sess.ID)
	requireCode(t, err, svcerrors.CodeForbidden)

	if err := svc.EndImpersonation(ctx, adm.ID, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	err = svc.EndImpersonation(ctx, adm.ID, sess.ID)
	requireCode(t, err, svcerrors.CodeConflict)

	_, err = svc.ResolveImpersonation(ctx, adm.ID, sess.ID)
	requireCode(t, err, svcerrors.CodeForbidden)

	_, active, err = svc.ImpersonationStatus(ctx, adm.ID)
	if err != nil {
		t.Fatalf("status after end: %v", err)
	}
	if active {
		t.Fatal("session still reported active after ending")
	}
}

func TestImpersonationExpiry(t *testing.T) {
	svc, _, adm, teacher := newFixture(t)
	svc = svc.WithImpersonationTTL(time.Minute)
	ctx := context.Background()

	sess, err := svc.Impersonate(ctx, adm.ID, teacher.ID, "support ticket 442")
	if err != nil {
		t.Fatalf("impersonate: %v", err)
	}

	n, err := svc.ExpireSessions(ctx, sess.ExpiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}

	_, err = svc.ResolveImpersonation(ctx, adm.ID, sess.ID)
	requireCode(t, err, svcerrors.CodeForbidden)
}

func TestAuditRingAndSink(t *testing.T) {
	svc, _, adm, teacher := newFixture(t)
	svc = svc.WithRingSize(2)
	ctx := context.Background()

	var sink captureSink
	svc.AttachSink(&sink)

	limit := 5
	for i := 0; i < 3; i++ {
		if _, err := svc.UpdateUser(ctx, adm.ID, teacher.ID, UserUpdate{GameLimit: &limit}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	recent := svc.RecentAudit(10)
	if len(recent) != 2 {
		t.Fatalf("ring of 2 holds %d entries", len(recent))
	}
	if len(sink.entries) != 3 {
		t.Fatalf("sink saw %d entries", len(sink.entries))
	}
	for _, e := range sink.entries {
		if e.Action != "user.update" || e.AdminID != adm.ID {
			t.Fatalf("unexpected sink entry %+v", e)
		}
	}
}

type captureSink struct {
	entries []domain.AuditEntry
}

func (c *captureSink) Write(e domain.AuditEntry) error {
	c.entries = append(c.entries, e)
	return nil
}
