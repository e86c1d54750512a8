package primitives

import (
	"strings"
	"testing"
)

func TestTransitionConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		tc          TransitionConfig
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid with target",
			tc:      TransitionConfig{Targets: []string{"next"}},
			wantErr: false,
		},
		{
			name:    "valid no target",
			tc:      TransitionConfig{Actions: []string{"logIt"}},
			wantErr: false,
		},
		{
			name:        "blank target",
			tc:          TransitionConfig{Targets: []string{"   "}},
			wantErr:     true,
			errContains: "must not be blank",
		},
		{
			name:        "empty target segment",
			tc:          TransitionConfig{Targets: []string{"parent..child"}},
			wantErr:     true,
			errContains: "empty segment",
		},
		{
			name:        "invalid target char",
			tc:          TransitionConfig{Targets: []string{"invalid@state"}},
			wantErr:     true,
			errContains: "invalid character",
		},
		{
			name:    "multiple targets for parallel",
			tc:      TransitionConfig{Targets: []string{"region1.a", "region2.b"}},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tc.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf(`error "%v" does not contain "%s"`, err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestTransitionConfigHasNoTarget(t *testing.T) {
	withTarget := TransitionConfig{Targets: []string{"next"}}
	if withTarget.HasNoTarget() {
		t.Error("HasNoTarget() = true, want false for transition with target")
	}
	noTarget := TransitionConfig{Actions: []string{"logIt"}}
	if !noTarget.HasNoTarget() {
		t.Error("HasNoTarget() = false, want true for transition without target")
	}
}
