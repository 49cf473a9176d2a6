package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/backkem/lwm2m/pkg/lwm2m"
)

func TestRunReturnsSetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
		wantMsg string
	}{
		{
			name:    "bad log level",
			env:     map[string]string{"LWM2M_LOG_LEVEL": "loud"},
			wantMsg: "failed to create logger",
		},
		{
			name:    "no server",
			env:     map[string]string{"LWM2M_LOG_FILE": filepath.Join(t.TempDir(), "client.log")},
			wantErr: lwm2m.ErrServerRequired,
			wantMsg: "failed to create client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LWM2M_SERVER_HOST", "")
			t.Setenv("LWM2M_BOOTSTRAP", "false")
			t.Setenv("LWM2M_USER_DATA", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := run()
			if err == nil {
				t.Fatal("run() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("run() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("run() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}
