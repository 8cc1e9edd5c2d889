// ABOUTME: Tests for the command parser
// ABOUTME: Verifies exact-match identity scoping and the closed vocabulary

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Vocabulary(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Command
	}{
		{"terminate level 5", "DEFCON 5 PC1", Command{Kind: KindTerminate, Level: 5, Scope: ScopeIdentity}},
		{"terminate level 4", "DEFCON 4 PC1", Command{Kind: KindTerminate, Level: 4, Scope: ScopeIdentity}},
		{"terminate level 3", "DEFCON 3 PC1", Command{Kind: KindTerminate, Level: 3, Scope: ScopeIdentity}},
		{"broadcast terminate", "DEFCON 2", Command{Kind: KindTerminate, Level: 2, Scope: ScopeBroadcast}},
		{"ping", "PING PC1", Command{Kind: KindPing, Scope: ScopeIdentity}},
		{"poweroff", "POWEROFF PC1", Command{Kind: KindPowerOff, Scope: ScopeIdentity}},
		{"reboot", "REBOOT PC1", Command{Kind: KindReboot, Scope: ScopeIdentity}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse("PC1", tt.body))
		})
	}
}

func TestParse_UnmatchedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"free text", "hello there"},
		{"other identity", "DEFCON 5 PC2"},
		{"ping other identity", "PING PC2"},
		{"lowercase command", "ping PC1"},
		{"lowercase identity", "DEFCON 5 pc1"},
		{"trailing space", "PING PC1 "},
		{"leading space", " PING PC1"},
		{"broadcast with identity", "DEFCON 2 PC1"},
		{"unknown level", "DEFCON 1 PC1"},
		{"missing identity", "DEFCON 5"},
		{"marker message", "__TIMESTAMP_SYNC__1700000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Command{Kind: KindUnknown}, Parse("PC1", tt.body))
		})
	}
}

// Two agents sharing a channel must not act on each other's commands; only
// the broadcast form crosses identities.
func TestParse_IdentityScoping(t *testing.T) {
	body := "DEFCON 5 PC1"

	assert.Equal(t, KindTerminate, Parse("PC1", body).Kind)
	assert.Equal(t, KindUnknown, Parse("PC2", body).Kind)

	assert.Equal(t, KindTerminate, Parse("PC1", "DEFCON 2").Kind)
	assert.Equal(t, KindTerminate, Parse("PC2", "DEFCON 2").Kind)
}
