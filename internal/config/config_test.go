package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func valid() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		AMI:  AMIConfig{Host: "pbx", Port: 5038, Username: "dialer", Secret: "pw"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "JWT_SECRET", "AMI_HOST", "AMI_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_LocalWithoutDatabase(t *testing.T) {
	c := valid()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.HasDB() || c.HasRedis() {
		t.Fatalf("expected no db or redis")
	}
	if c.Dialer.Grace != 15*time.Second || c.AMI.ConnectTimeout != 10*time.Second {
		t.Fatalf("expected defaults, got %+v %+v", c.Dialer, c.AMI)
	}
}

func TestValidate_ProductionRequiresDatabaseAndSSLMode(t *testing.T) {
	c := valid()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_HOST") {
		t.Fatalf("expected DB_HOST error, got %v", err)
	}

	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "dialer"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := valid()
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "dialer"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_TrunkCapNeedsRedis(t *testing.T) {
	c := valid()
	c.Dialer.TrunkMaxChannels = 30
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for trunk cap without redis")
	}
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dialer.yaml")
	body := `
app:
  env: dev
  port: 9090
auth:
  jwt_secret: file-secret
ami:
  host: pbx.local
  username: dialer
  secret: pw
dialer:
  grace: 3s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AMI_PORT", "5039")

	c, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.App.Env != "dev" {
		t.Fatalf("unexpected app config: %+v", c.App)
	}
	if c.AMIAddr() != "pbx.local:5039" {
		t.Fatalf("expected env to override file, got %q", c.AMIAddr())
	}
	if c.Dialer.Grace != 3*time.Second {
		t.Fatalf("expected grace from file, got %v", c.Dialer.Grace)
	}
}

func TestLoad_RejectsUnknownFlag(t *testing.T) {
	if _, err := Load([]string{"--nope"}); err == nil {
		t.Fatalf("expected flag error")
	}
}
