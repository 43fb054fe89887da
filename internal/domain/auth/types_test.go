package auth

import (
	"testing"
	"time"
)

func TestIdentity_HasScope(t *testing.T) {
	id := Identity{Scopes: []string{ScopeTasksWrite}}
	if !id.HasScope(ScopeTasksWrite) {
		t.Fatalf("expected scope match")
	}
	if id.HasScope(ScopeEventsPublish) {
		t.Fatalf("did not expect scope match")
	}
	admin := Identity{Scopes: []string{ScopeAdmin}}
	if !admin.HasScope(ScopeTasksWrite) || !admin.HasScope(ScopeAgentsWrite) {
		t.Fatalf("admin must satisfy every scope")
	}
}

func TestIdentity_Expired(t *testing.T) {
	now := time.Now()
	if (Identity{}).Expired(now) {
		t.Fatalf("zero expiry never expires")
	}
	if (Identity{ExpiresAt: now.Add(time.Hour)}).Expired(now) {
		t.Fatalf("future expiry is not expired")
	}
	if !(Identity{ExpiresAt: now.Add(-time.Minute)}).Expired(now) {
		t.Fatalf("past expiry is expired")
	}
}
