package main

import (
	"testing"

	"github.com/dinakaran-p/vccrm/config"
	"github.com/dinakaran-p/vccrm/storage"
)

func TestOpenAuditLog(t *testing.T) {
	audit, err := openAuditLog(config.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := audit.(*storage.MemoryAuditLog); !ok {
		t.Fatalf("expected in-memory audit log, got %T", audit)
	}

	queueOnly := config.Config{ActivityQueue: "activity", StorageConnStr: "UseDevelopmentStorage=true"}
	audit, err = openAuditLog(queueOnly)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if audit != nil {
		t.Fatalf("queued activities without an audit table must not be served from memory, got %T", audit)
	}
}
