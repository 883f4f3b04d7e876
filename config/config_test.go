package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/warp/incentive-engine/config"
)

var envKeys = []string{
	"INCENTIVE_CONFIG", "INCENTIVE_ADDR", "INCENTIVE_DB_PATH", "INCENTIVE_CURRENCY",
	"INCENTIVE_SCAN_INTERVAL", "INCENTIVE_SCAN_ENABLED", "INCENTIVE_CORS_ORIGINS",
	"INCENTIVE_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "incentive.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	convey.Convey("Given the config loader", t, func() {
		clearEnv(t)

		convey.Convey("When nothing is set", func() {
			cfg, err := config.Load("")

			convey.Convey("Then defaults apply", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Currency, convey.ShouldEqual, "COP")
				convey.So(cfg.ScanEnabled, convey.ShouldBeTrue)
				convey.So(cfg.ScanInterval, convey.ShouldEqual, time.Hour)
				convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 30*time.Second)
			})
		})

		convey.Convey("When a YAML file is given", func() {
			path := writeFile(t, `
addr: ":9090"
db_path: /var/lib/incentive/data.db
scan_interval: 15m
tiers_file: tiers.yaml
`)
			cfg, err := config.Load(path)

			convey.Convey("Then its values override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DBPath, convey.ShouldEqual, "/var/lib/incentive/data.db")
				convey.So(cfg.ScanInterval, convey.ShouldEqual, 15*time.Minute)
				convey.So(cfg.TiersFile, convey.ShouldEqual, "tiers.yaml")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			})

			convey.Convey("And env vars are set too", func() {
				t.Setenv("INCENTIVE_ADDR", ":7070")
				t.Setenv("INCENTIVE_SCAN_ENABLED", "false")
				t.Setenv("INCENTIVE_CORS_ORIGINS", "https://a.example,https://b.example")
				cfg, err := config.Load(path)

				convey.Convey("Then env wins over the file", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
					convey.So(cfg.ScanEnabled, convey.ShouldBeFalse)
					convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
					convey.So(cfg.DBPath, convey.ShouldEqual, "/var/lib/incentive/data.db")
				})
			})
		})

		convey.Convey("When INCENTIVE_CONFIG points at a file", func() {
			t.Setenv("INCENTIVE_CONFIG", writeFile(t, "currency: USD\n"))
			cfg, err := config.Load("")

			convey.Convey("Then it is used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Currency, convey.ShouldEqual, "USD")
			})
		})

		convey.Convey("When the file does not exist", func() {
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When a list comes from the environment with stray spaces", func() {
			t.Setenv("INCENTIVE_CORS_ORIGINS", " https://a.example , ,https://b.example,")
			cfg, err := config.Load("")

			convey.Convey("Then it is split, trimmed and blanks are dropped", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
			})
		})

		convey.Convey("When a list replaces one from the file", func() {
			path := writeFile(t, "cors_origins:\n  - https://file.example\n")
			t.Setenv("INCENTIVE_CORS_ORIGINS", "https://env.example")
			cfg, err := config.Load(path)

			convey.Convey("Then the env list wins whole", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://env.example"})
			})
		})

		convey.Convey("When a value is invalid", func() {
			t.Setenv("INCENTIVE_CURRENCY", "PESOS")
			_, err := config.Load("")

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given valid defaults", t, func() {
		cfg := config.New()
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		convey.Convey("A zero scan interval is only an error while scanning is on", func() {
			cfg.ScanInterval = 0
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			cfg.ScanEnabled = false
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("An empty db path is rejected", func() {
			cfg.DBPath = ""
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}
