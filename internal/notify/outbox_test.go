package notify

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wardenhost/warden/internal/protocol"
)

func TestOutboxCoalescing(t *testing.T) {
	tests := map[string]struct {
		pushes []protocol.Notification
		want   []protocol.Notification
	}{
		"progress replaces same kind and server": {
			pushes: []protocol.Notification{
				protocol.BackupProgress("vanilla", 10, 100),
				protocol.BackupProgress("vanilla", 50, 100),
				protocol.BackupProgress("vanilla", 100, 100),
			},
			want: []protocol.Notification{
				protocol.BackupProgress("vanilla", 100, 100),
			},
		},
		"progress for different servers doesn't coalesce": {
			pushes: []protocol.Notification{
				protocol.BackupProgress("vanilla", 10, 100),
				protocol.BackupProgress("modded", 20, 200),
			},
			want: []protocol.Notification{
				protocol.BackupProgress("vanilla", 10, 100),
				protocol.BackupProgress("modded", 20, 200),
			},
		},
		"different progress kinds don't coalesce": {
			pushes: []protocol.Notification{
				protocol.BackupProgress("vanilla", 10, 100),
				protocol.ZipProgress("vanilla", protocol.ZipPhaseZipping, 5, 50),
				protocol.ZipProgress("vanilla", protocol.ZipPhaseZipping, 25, 50),
			},
			want: []protocol.Notification{
				protocol.BackupProgress("vanilla", 10, 100),
				protocol.ZipProgress("vanilla", protocol.ZipPhaseZipping, 25, 50),
			},
		},
		"terminal notifications always append": {
			pushes: []protocol.Notification{
				protocol.StatusChanged("vanilla", protocol.StatusIdle, protocol.StatusStarting),
				protocol.StatusChanged("vanilla", protocol.StatusStarting, protocol.StatusRunning),
				protocol.StatusChanged("vanilla", protocol.StatusRunning, protocol.StatusStopping),
			},
			want: []protocol.Notification{
				protocol.StatusChanged("vanilla", protocol.StatusIdle, protocol.StatusStarting),
				protocol.StatusChanged("vanilla", protocol.StatusStarting, protocol.StatusRunning),
				protocol.StatusChanged("vanilla", protocol.StatusRunning, protocol.StatusStopping),
			},
		},
		"replacement preserves queue position": {
			pushes: []protocol.Notification{
				protocol.RestoreProgress("vanilla", 1, 10),
				protocol.StatusChanged("modded", protocol.StatusIdle, protocol.StatusStarting),
				protocol.RestoreProgress("vanilla", 9, 10),
			},
			want: []protocol.Notification{
				protocol.RestoreProgress("vanilla", 9, 10),
				protocol.StatusChanged("modded", protocol.StatusIdle, protocol.StatusStarting),
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var outbox Outbox
			for _, n := range tt.pushes {
				outbox.Push(n)
			}
			if diff := cmp.Diff(tt.want, outbox.Drain()); diff != "" {
				t.Errorf("drained notifications mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOutboxDrainClears(t *testing.T) {
	var outbox Outbox
	outbox.Push(protocol.BackupProgress("vanilla", 1, 2))

	if got := len(outbox.Drain()); got != 1 {
		t.Fatalf("first drain returned %d notifications, want 1", got)
	}
	if got := outbox.Drain(); got != nil {
		t.Errorf("second drain returned %v, want nil", got)
	}
	if outbox.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", outbox.Len())
	}
}

func TestRegistryHandsOutStableOutboxes(t *testing.T) {
	registry := NewRegistry()

	first := registry.Outbox("erin")
	first.Push(protocol.BackupProgress("vanilla", 1, 2))

	if got := registry.Outbox("erin"); got != first {
		t.Error("Outbox() returned a different instance for the same account")
	}
	if got := registry.Outbox("sam"); got == first {
		t.Error("Outbox() shared one instance across accounts")
	}
}
