package config_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskvisor/internal/config"
	"github.com/slok/taskvisor/internal/model"
)

func TestBossYAMLRepositoryGetConfig(t *testing.T) {
	tests := map[string]struct {
		data   string
		path   string
		expCfg model.BossConfig
		expErr bool
	}{
		"A complete config should load.": {
			data: `
modules:
  - service: org.taskvisor.Module.Timezone
  - service: org.taskvisor.Module.Subscription
    optional: true
module_start_timeout: 10s
tolerate_optional_modules: true
locale: es_ES.UTF-8
quit_delay: 1s
journal_path: /var/lib/taskvisor/journal.db
step_delay: 50ms
`,
			expCfg: model.BossConfig{
				Modules: []model.Module{
					{Service: "org.taskvisor.Module.Timezone"},
					{Service: "org.taskvisor.Module.Subscription", Optional: true},
				},
				ModuleStartTimeout:      10 * time.Second,
				TolerateOptionalModules: true,
				Locale:                  "es_ES.UTF-8",
				QuitDelay:               time.Second,
				JournalPath:             "/var/lib/taskvisor/journal.db",
				StepDelay:               50 * time.Millisecond,
			},
		},

		"A config with only modules should have the defaults.": {
			data: `
modules:
  - service: org.taskvisor.Module.Timezone
`,
			expCfg: model.BossConfig{
				Modules:            []model.Module{{Service: "org.taskvisor.Module.Timezone"}},
				ModuleStartTimeout: 5 * time.Second,
				Locale:             "en_US.UTF-8",
				QuitDelay:          200 * time.Millisecond,
			},
		},

		"A config without modules should fail.": {
			data:   "locale: C\n",
			expErr: true,
		},

		"A module without service should fail.": {
			data:   "modules:\n  - optional: true\n",
			expErr: true,
		},

		"Duplicated modules should fail.": {
			data: `
modules:
  - service: org.taskvisor.Module.Timezone
  - service: org.taskvisor.Module.Timezone
`,
			expErr: true,
		},

		"A negative timeout should fail.": {
			data: `
modules:
  - service: org.taskvisor.Module.Timezone
module_start_timeout: -1s
`,
			expErr: true,
		},

		"Invalid YAML should fail.": {
			data:   "modules: [",
			expErr: true,
		},

		"A missing file should fail.": {
			path:   "missing.yaml",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			fs := fstest.MapFS{"boss.yaml": &fstest.MapFile{Data: []byte(test.data)}}
			path := test.path
			if path == "" {
				path = "boss.yaml"
			}

			repo := config.NewBossYAMLRepository(fs)
			gotCfg, err := repo.GetConfig(context.Background(), path)

			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expCfg, gotCfg)
			}
		})
	}
}
