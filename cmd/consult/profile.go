package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile holds per-clinician defaults. Values come from the YAML file,
// then environment variables, then flags, each overriding the last.
type Profile struct {
	APIURL       string        `yaml:"api_url"`
	Token        string        `yaml:"token"`
	TokenEnv     string        `yaml:"token_env"`
	DevSecret    string        `yaml:"dev_secret"`
	Subject      string        `yaml:"subject"`
	Plan         string        `yaml:"plan"`
	RequiredPlan string        `yaml:"required_plan"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	HTMLOutput   string        `yaml:"html_output"`
	LogLevel     string        `yaml:"log_level"`
}

func defaultProfile() Profile {
	return Profile{
		APIURL:   "http://localhost:8000",
		TokenEnv: "MEDINOTES_TOKEN",
		Subject:  "dev_clinician",
		TokenTTL: 5 * time.Minute,
		LogLevel: "warn",
	}
}

// loadProfile reads path over the defaults. A missing file is not an error
// unless the caller named it explicitly.
func loadProfile(path string, explicit bool) (Profile, error) {
	p := defaultProfile()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return p, nil
		}
		return p, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return p, nil
}

// applyEnv overlays MEDINOTES_* variables and the shared DEV_AUTH_SECRET.
func (p *Profile) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&p.APIURL, "MEDINOTES_API_URL")
	set(&p.DevSecret, "DEV_AUTH_SECRET")
	set(&p.Subject, "MEDINOTES_SUBJECT")
	set(&p.Plan, "MEDINOTES_PLAN")
	set(&p.RequiredPlan, "REQUIRED_PLAN")
	set(&p.HTMLOutput, "MEDINOTES_HTML_OUTPUT")
	set(&p.LogLevel, "LOG_LEVEL")
}
