package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/journal/sqlite"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
	"github.com/slok/taskvisor/internal/module/fake"
)

func TestRootCommandBossConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "boss.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
modules:
  - service: org.taskvisor.Module.Storage
  - service: org.taskvisor.Module.Users
    optional: true
module_start_timeout: 2s
journal_path: /tmp/journal.db
`), 0o644))
	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("modules: []\n"), 0o644))

	tests := map[string]struct {
		configPath string
		expConfig  func(t *testing.T, cfg model.BossConfig)
		expErr     bool
	}{
		"Without a config file the simulated fleet should be expected.": {
			expConfig: func(t *testing.T, cfg model.BossConfig) {
				require.Len(t, cfg.Modules, len(fake.DefaultModules(0)))
				assert.True(t, cfg.TolerateOptionalModules)
				assert.Equal(t, 5*time.Second, cfg.ModuleStartTimeout)
				for _, m := range cfg.Modules {
					assert.Equal(t, m.Service == fake.ServicePrefix+"Users", m.Optional)
				}
			},
		},

		"A config file should be loaded.": {
			configPath: cfgPath,
			expConfig: func(t *testing.T, cfg model.BossConfig) {
				assert.Equal(t, []model.Module{
					{Service: "org.taskvisor.Module.Storage"},
					{Service: "org.taskvisor.Module.Users", Optional: true},
				}, cfg.Modules)
				assert.Equal(t, 2*time.Second, cfg.ModuleStartTimeout)
				assert.Equal(t, "/tmp/journal.db", cfg.JournalPath)
			},
		},

		"An invalid config file should fail.": {
			configPath: badPath,
			expErr:     true,
		},

		"A missing config file should fail.": {
			configPath: filepath.Join(dir, "missing.yaml"),
			expErr:     true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			root := &RootCommand{ConfigPath: test.configPath}
			cfg, err := root.BossConfig(context.Background())
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.expConfig(t, cfg)
		})
	}
}

func TestInstallCommandRun(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.db")
	cfgPath := filepath.Join(dir, "boss.yaml")
	require.NoError(os.WriteFile(cfgPath, []byte(`
modules:
  - service: org.taskvisor.Module.Storage
  - service: org.taskvisor.Module.Payloads
quit_delay: 10ms
step_delay: 1ms
journal_path: `+journalPath+"\n"), 0o644))

	var out bytes.Buffer
	root := &RootCommand{ConfigPath: cfgPath, Logger: log.Noop, Stdout: &out, Stderr: io.Discard}
	cmd := InstallCommand{rootCmd: root, format: formatJSON}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(cmd.Run(ctx))

	assert.Contains(out.String(), `"name": "lvm2"`)
	assert.Contains(out.String(), `"task":"Install the system"`)
	assert.Contains(out.String(), `"message": "Installation finished"`)

	j, err := sqlite.NewJournal(context.Background(), sqlite.JournalConfig{DBPath: journalPath})
	require.NoError(err)
	defer j.Close()

	runs, err := j.ListRuns(context.Background())
	require.NoError(err)
	require.Len(runs, 2)
	for _, r := range runs {
		for _, s := range r.Steps {
			assert.Equal(model.StepStatusDone, s.Status, "%s: %s", r.Phase, s.Name)
		}
	}
}
