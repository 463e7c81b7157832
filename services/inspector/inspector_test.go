package inspector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/mdm-catalog/services"
	"go.uber.org/zap"
)

// fakeTool writes an executable shell script standing in for aapt
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "aapt")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestParseBadging(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		pkg     string
		version string
	}{
		{
			name:    "standard dump",
			output:  "package: name='com.acme.app' versionCode='12' versionName='1.2.0' platformBuildVersionName=''\nsdkVersion:'21'\n",
			pkg:     "com.acme.app",
			version: "1.2.0",
		},
		{
			name:    "version with spaces",
			output:  "package: name='com.acme.app' versionCode='3' versionName='2.0 beta'\n",
			pkg:     "com.acme.app",
			version: "2.0 beta",
		},
		{
			name:   "missing version",
			output: "package: name='com.acme.app' versionCode='3'\n",
			pkg:    "com.acme.app",
		},
		{
			name:   "no package line",
			output: "application-label:'Acme'\n",
		},
		{
			name:    "only first package line counts",
			output:  "package: name='first' versionName='1'\npackage: name='second' versionName='2'\n",
			pkg:     "first",
			version: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseBadging(tt.output)
			assert.Equal(t, tt.pkg, info.Pkg)
			assert.Equal(t, tt.version, info.Version)
		})
	}
}

func TestAAPTInspector_Inspect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tool := fakeTool(t, `echo "package: name='com.acme.app' versionCode='2' versionName='2.0'"`)
		insp := NewAAPTInspector(Config{Command: tool, Timeout: 5 * time.Second}, nil, zap.NewNop())

		info, err := insp.Inspect(context.Background(), "/tmp/app.apk")
		require.NoError(t, err)
		assert.Equal(t, "com.acme.app", info.Pkg)
		assert.Equal(t, "2.0", info.Version)
	})

	t.Run("non-zero exit keeps stderr", func(t *testing.T) {
		tool := fakeTool(t, "echo 'ERROR: dump failed' >&2\necho 'bad zip' >&2\nexit 3")
		insp := NewAAPTInspector(Config{Command: tool, Timeout: 5 * time.Second}, nil, zap.NewNop())

		_, err := insp.Inspect(context.Background(), "/tmp/broken.apk")
		require.Error(t, err)
		assert.ErrorIs(t, err, services.ErrArtifactInspectionFailed)
		assert.True(t, services.IsExternalError(err))

		details := services.GetErrorDetails(err)
		assert.EqualValues(t, 3, details["exit_code"])
		assert.Equal(t, []string{"ERROR: dump failed", "bad zip"}, details["stderr"])
	})

	t.Run("missing fields", func(t *testing.T) {
		tool := fakeTool(t, `echo "package: name='com.acme.app'"`)
		insp := NewAAPTInspector(Config{Command: tool, Timeout: 5 * time.Second}, nil, zap.NewNop())

		_, err := insp.Inspect(context.Background(), "/tmp/app.apk")
		assert.ErrorIs(t, err, services.ErrArtifactInspectionFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		tool := fakeTool(t, "exec sleep 5")
		insp := NewAAPTInspector(Config{Command: tool, Timeout: 100 * time.Millisecond}, nil, zap.NewNop())

		start := time.Now()
		_, err := insp.Inspect(context.Background(), "/tmp/app.apk")
		assert.ErrorIs(t, err, services.ErrArtifactInspectionFailed)
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("missing tool", func(t *testing.T) {
		insp := NewAAPTInspector(Config{Command: filepath.Join(t.TempDir(), "nope")}, nil, zap.NewNop())

		_, err := insp.Inspect(context.Background(), "/tmp/app.apk")
		assert.ErrorIs(t, err, services.ErrArtifactInspectionFailed)
		assert.EqualValues(t, -1, services.GetErrorDetails(err)["exit_code"])
	})
}
