// Package config loads netwatch's runtime configuration: a YAML file for
// structured defaults, overlaid with environment variables read through
// godotenv, mirroring the two-stage load the proxy this module grew out of
// used for its own settings.
package config

import (
	"os"
	"regexp"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every option enumerated in the external interface: session
// target, artifact location, host-advertised UA and window geometry, and
// the capture engine's security/persistence toggles.
type Config struct {
	TargetURL string `yaml:"targetUrl"`
	UserAgent string `yaml:"userAgent"`
	WinWidth  int    `yaml:"winWidth"`
	WinHeight int    `yaml:"winHeight"`

	OutputFolder string `yaml:"outputFolder"`

	InspectorListenAddr string `yaml:"inspectorListenAddr"`
	ProxyListenAddr     string `yaml:"proxyListenAddr"`

	RedactSecrets bool   `yaml:"redactSecrets"`
	CaptureBodies bool   `yaml:"captureBodies"`
	CaptureBodyMaxBytes int64 `yaml:"captureBodyMaxBytes"`
	CaptureBodyTypes    string `yaml:"captureBodyTypes"`
	EnableCDP           bool   `yaml:"enableCdp"`
}

// Default returns the configuration used when neither a file nor
// environment overrides are present.
func Default() Config {
	return Config{
		TargetURL:           "about:blank",
		UserAgent:           "",
		WinWidth:            1280,
		WinHeight:           800,
		OutputFolder:        "./captures",
		InspectorListenAddr: ":7745",
		ProxyListenAddr:     ":7746",
		RedactSecrets:       true,
		CaptureBodies:       false,
		CaptureBodyMaxBytes: 2 << 20, // 2MiB
		CaptureBodyTypes:    `^(application/json|text/)`,
		EnableCDP:           false,
	}
}

// Load reads path (if non-empty and present) as YAML into Default(), then
// overlays any matching environment variables — including those declared
// in a ".env" file, loaded best-effort the way the teacher's config loader
// does. A missing .env file is not an error; a malformed YAML file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NETWATCH_TARGET_URL"); v != "" {
		c.TargetURL = v
	}
	if v := os.Getenv("NETWATCH_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("NETWATCH_OUTPUT_FOLDER"); v != "" {
		c.OutputFolder = v
	}
	if v := os.Getenv("NETWATCH_INSPECTOR_ADDR"); v != "" {
		c.InspectorListenAddr = v
	}
	if v := os.Getenv("NETWATCH_PROXY_ADDR"); v != "" {
		c.ProxyListenAddr = v
	}
	if v := os.Getenv("NETWATCH_WIN_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WinWidth = n
		}
	}
	if v := os.Getenv("NETWATCH_WIN_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WinHeight = n
		}
	}
	if v := os.Getenv("NETWATCH_REDACT_SECRETS"); v != "" {
		c.RedactSecrets = v == "1" || v == "true"
	}
	if v := os.Getenv("NETWATCH_CAPTURE_BODIES"); v != "" {
		c.CaptureBodies = v == "1" || v == "true"
	}
	if v := os.Getenv("NETWATCH_CAPTURE_BODY_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CaptureBodyMaxBytes = n
		}
	}
	if v := os.Getenv("NETWATCH_CAPTURE_BODY_TYPES"); v != "" {
		c.CaptureBodyTypes = v
	}
	if v := os.Getenv("NETWATCH_ENABLE_CDP"); v != "" {
		c.EnableCDP = v == "1" || v == "true"
	}
}

// BodyTypeMatcher compiles CaptureBodyTypes, treating an invalid regex as
// "match nothing" per the configuration-failure policy — a bad filter
// disables persistence rather than crashing the pipeline.
func (c *Config) BodyTypeMatcher() *regexp.Regexp {
	re, err := regexp.Compile(c.CaptureBodyTypes)
	if err != nil {
		return regexp.MustCompile(`$.`) // never matches
	}
	return re
}
