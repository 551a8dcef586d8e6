package orgcontext

import (
	"context"
	"testing"
)

func TestOrgIDRoundTrip(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Fatalf("expected no org id")
	}
	ctx := WithOrgID(context.Background(), " org-7 ")
	got, ok := OrgIDFromContext(ctx)
	if !ok || got != "org-7" {
		t.Fatalf("expected org-7, got %q (%v)", got, ok)
	}
	if _, ok := OrgIDFromContext(WithOrgID(context.Background(), "")); ok {
		t.Fatalf("expected empty org id to be absent")
	}
}
