package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		t.Setenv(config.EnvConfigPath, "")

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load("", nil)

			convey.Convey("Then the original camera layout is used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.GalleryPattern, convey.ShouldEqual, "static/Image/students%02d.png")
				convey.So(cfg.GalleryCount, convey.ShouldEqual, 43)
				convey.So(cfg.TopK, convey.ShouldEqual, 3)
				convey.So(cfg.Downsample, convey.ShouldEqual, 0.25)
				convey.So(cfg.ProcessEvery, convey.ShouldEqual, 2)
				convey.So(cfg.StateBackend, convey.ShouldEqual, config.BackendMemory)
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a YAML file and env vars", func() {
			path := filepath.Join(t.TempDir(), "facewatch.yaml")
			yaml := "top_k: 5\nstate_backend: file\nstate_path: /tmp/top.json\nworker_timeout: 2s\nprocess_every: 1\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0644), convey.ShouldBeNil)
			t.Setenv("FACEWATCH_TOP_K", "7")
			t.Setenv("FACEWATCH_DOWNSAMPLE", "0.5")
			defer os.Unsetenv("FACEWATCH_TOP_K")
			defer os.Unsetenv("FACEWATCH_DOWNSAMPLE")

			cfg, err := config.Load(path, nil)

			convey.Convey("Then env overrides the file which overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.TopK, convey.ShouldEqual, 7)
				convey.So(cfg.Downsample, convey.ShouldEqual, 0.5)
				convey.So(cfg.StateBackend, convey.ShouldEqual, config.BackendFile)
				convey.So(cfg.StatePath, convey.ShouldEqual, "/tmp/top.json")
				convey.So(cfg.WorkerTimeout, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.ProcessEvery, convey.ShouldEqual, 1)
				convey.So(cfg.GalleryCount, convey.ShouldEqual, 43)
			})
		})

		convey.Convey("When overrides are given", func() {
			t.Setenv("FACEWATCH_TOP_K", "7")
			cfg, err := config.Load("", map[string]string{"top_k": "2", "state_backend": "file"})

			convey.Convey("Then they win over env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.TopK, convey.ShouldEqual, 2)
				convey.So(cfg.StateBackend, convey.ShouldEqual, config.BackendFile)
			})
		})

		convey.Convey("When the config file is missing", func() {
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero top_k", func(c *config.Config) { c.TopK = 0 }},
		{"downsample above one", func(c *config.Config) { c.Downsample = 1.5 }},
		{"zero downsample", func(c *config.Config) { c.Downsample = 0 }},
		{"zero process_every", func(c *config.Config) { c.ProcessEvery = 0 }},
		{"zero engines", func(c *config.Config) { c.Engines = 0 }},
		{"unknown backend", func(c *config.Config) { c.StateBackend = "redis" }},
		{"file backend without path", func(c *config.Config) { c.StateBackend = config.BackendFile; c.StatePath = "" }},
		{"postgres backend without url", func(c *config.Config) { c.StateBackend = config.BackendPostgres; c.DBURL = "" }},
		{"no gallery source", func(c *config.Config) { c.GalleryPattern = "" }},
		{"bad jpeg quality", func(c *config.Config) { c.JPEGQuality = 0 }},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }},
		{"negative status interval", func(c *config.Config) { c.StatusInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
