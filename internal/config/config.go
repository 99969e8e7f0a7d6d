package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KeyPrefix        string
	StateTTL         time.Duration
	StoreMaxAttempts int
	StoreBackoff     time.Duration

	SecondsPerRound int
	SettleDelay     time.Duration
	OnlineWindow    time.Duration

	AdminUser string
	AdminPass string

	EventTopic  string
	RedisEvents bool
	NATSURL     string
	NATSSubject string

	HistoryFile string
	HistoryDSN  string

	PhotoDir string
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	p := parser{}
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.AppEnv = getenv("APP_ENV", "development")
	c.LogLevel = getenv("LOG_LEVEL", "info")

	c.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RedisDB = p.intVar("REDIS_DB", 0)

	c.KeyPrefix = getenv("KEY_PREFIX", "babyguess")
	c.StateTTL = p.durationVar("STATE_TTL", 2*time.Hour)
	c.StoreMaxAttempts = p.intVar("STORE_MAX_ATTEMPTS", 3)
	c.StoreBackoff = p.durationVar("STORE_BACKOFF", 100*time.Millisecond)

	c.SecondsPerRound = p.intVar("SECONDS_PER_ROUND", 20)
	c.SettleDelay = p.durationVar("SETTLE_DELAY", 5*time.Second)
	c.OnlineWindow = p.durationVar("ONLINE_WINDOW", 30*time.Second)

	c.AdminUser = os.Getenv("ADMIN_USER")
	c.AdminPass = os.Getenv("ADMIN_PASS")

	c.EventTopic = getenv("EVENT_TOPIC", "game")
	c.RedisEvents = p.boolVar("REDIS_EVENTS", true)
	c.NATSURL = os.Getenv("NATS_URL")
	c.NATSSubject = getenv("NATS_SUBJECT", "babyguess")

	c.HistoryFile = getenv("HISTORY_FILE", "./babyguess-history.txt")
	c.HistoryDSN = os.Getenv("HISTORY_DSN")

	c.PhotoDir = os.Getenv("PHOTO_DIR")
	return c, p.err
}

// Validate checks value ranges and production safety.
func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR is required")
	}
	if c.SecondsPerRound <= 0 {
		return errors.New("config: SECONDS_PER_ROUND must be positive")
	}
	if c.StoreMaxAttempts <= 0 {
		return errors.New("config: STORE_MAX_ATTEMPTS must be positive")
	}
	if c.StateTTL <= 0 || c.SettleDelay <= 0 || c.OnlineWindow <= 0 {
		return errors.New("config: STATE_TTL, SETTLE_DELAY and ONLINE_WINDOW must be positive")
	}
	if (c.AdminUser == "") != (c.AdminPass == "") {
		return errors.New("config: ADMIN_USER and ADMIN_PASS must be set together")
	}
	if c.IsProduction() && c.AdminUser == "" {
		return errors.New("config: in production ADMIN_USER and ADMIN_PASS are required")
	}
	return nil
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

func (c Config) Addr() string { return ":" + c.Port }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// parser keeps the first malformed variable so Load can report it.
type parser struct {
	err error
}

func (p *parser) fail(k, v string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "config: %s=%q", k, v)
	}
}

func (p *parser) intVar(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return n
}

func (p *parser) boolVar(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return b
}

// durationVar accepts Go durations ("1m30s") or plain seconds.
func (p *parser) durationVar(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return d
}
