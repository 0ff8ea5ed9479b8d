package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/thereayou/concord/pkg/protocol"
)

const defaultStun = "stun:stun.l.google.com:19302"

type Config struct {
	Host string
	Port string

	RealmName           string
	RealmDescription    string
	PasswordVerify      string
	PasswordVerifyNonce string
	Admins              []string
	AllowDirectMessages bool
	RetentionDays       *int
	FileRetentionDays   *int
	MaxMembers          int

	DataDir        string
	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string

	MaxFileSize     int64
	MaxStorageBytes int64

	MediaWorkers         []string
	MediaListenIP        string
	MediaAnnouncedIP     string
	IceServers           []protocol.IceServer
	MaxVoiceParticipants int

	AuthTimeout       time.Duration
	SessionSecret     string
	SessionTTL        time.Duration
	UploadRateLimit   int
	UploadRateWindow  time.Duration
	RetentionInterval time.Duration
}

// Load reads .env.local, then .env, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println("[config] .env not found, using environment variables")
		}
	}

	cfg := &Config{
		Host:                 envStr("HOST", "0.0.0.0"),
		Port:                 envStr("PORT", "9000"),
		RealmName:            envStr("REALM_NAME", "My Realm"),
		RealmDescription:     envStr("REALM_DESCRIPTION", "A Concord server"),
		PasswordVerify:       os.Getenv("REALM_PASSWORD_VERIFY"),
		PasswordVerifyNonce:  os.Getenv("REALM_PASSWORD_VERIFY_NONCE"),
		Admins:               splitList(os.Getenv("REALM_ADMINS"), ";"),
		AllowDirectMessages:  envBool("ALLOW_DM", false),
		MaxMembers:           envInt("MAX_MEMBERS", 0),
		DataDir:              envStr("DATA_DIR", "./data"),
		DatabaseDriver:       strings.ToLower(envStr("DB_DRIVER", "sqlite")),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		MaxFileSize:          int64(envInt("MAX_FILE_SIZE", 50*1024*1024)),
		MaxStorageBytes:      int64(envInt("MAX_STORAGE_BYTES", 0)),
		MediaWorkers:         splitList(os.Getenv("MEDIA_WORKERS"), ","),
		MediaListenIP:        envStr("MEDIA_LISTEN_IP", "0.0.0.0"),
		MediaAnnouncedIP:     os.Getenv("MEDIA_ANNOUNCED_IP"),
		MaxVoiceParticipants: envInt("MAX_VOICE_PARTICIPANTS", 0),
		AuthTimeout:          envDur("AUTH_TIMEOUT", 10*time.Second),
		SessionSecret:        os.Getenv("SESSION_SECRET"),
		SessionTTL:           envDur("SESSION_TTL", 24*time.Hour),
		UploadRateLimit:      envInt("UPLOAD_RATE_LIMIT", 10),
		UploadRateWindow:     envDur("UPLOAD_RATE_WINDOW", time.Minute),
		RetentionInterval:    envDur("RETENTION_INTERVAL", 24*time.Hour),
	}

	var err error
	if cfg.RetentionDays, err = envOptionalInt("RETENTION_DAYS"); err != nil {
		return nil, err
	}
	if cfg.FileRetentionDays, err = envOptionalInt("FILE_RETENTION_DAYS"); err != nil {
		return nil, err
	}

	switch cfg.DatabaseDriver {
	case "sqlite":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = filepath.Join(cfg.DataDir, "concord.db")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = randomSecret()
		log.Println("[config] SESSION_SECRET not set, session tokens will not survive a restart")
	}

	if cfg.MediaAnnouncedIP == "" {
		cfg.MediaAnnouncedIP = detectLocalIP()
	}
	if isPrivateIP(cfg.MediaAnnouncedIP) {
		log.Printf("[config] MEDIA_ANNOUNCED_IP %s is private, voice only works on this network", cfg.MediaAnnouncedIP)
	}

	cfg.IceServers = iceServers(
		splitList(envStr("STUN_SERVERS", defaultStun), ","),
		splitList(os.Getenv("TURN_SERVERS"), ","),
		os.Getenv("TURN_USERNAME"),
		os.Getenv("TURN_CREDENTIAL"),
	)

	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Encrypted reports whether the realm is password protected.
func (c *Config) Encrypted() bool {
	return c.PasswordVerify != "" && c.PasswordVerifyNonce != ""
}

func (c *Config) IsAdmin(publicKey string) bool {
	for _, admin := range c.Admins {
		if admin == publicKey {
			return true
		}
	}
	return false
}

func iceServers(stun, turn []string, username, credential string) []protocol.IceServer {
	var servers []protocol.IceServer
	if len(stun) > 0 {
		servers = append(servers, protocol.IceServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, protocol.IceServer{URLs: turn, Username: username, Credential: credential})
	}
	return servers
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func envOptionalInt(key string) (*int, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return &n, nil
}

func splitList(v, sep string) []string {
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("[config] cannot read random bytes: %v", err)
	}
	return hex.EncodeToString(buf)
}

func detectLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLoopback()
}
