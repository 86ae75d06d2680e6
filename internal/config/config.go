// Package config provides application configuration from an INI-style file
// with iterative $(section.key) reference resolution and a small registry of
// named dynamic hooks. Environment variables override selected options.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// Default values applied when the config file leaves an option unset.
const (
	DefaultCacheStrategy = "preload"
	DefaultCacheCipher   = "aes-gcm"
	DefaultLogTarget     = "console"
	DefaultMaxServers    = 5
	DefaultSocketMode    = fs.FileMode(0o660)
	DefaultUmask         = fs.FileMode(0o077)
	DefaultReadTimeout   = 30 // seconds
	DefaultMetricsPort   = 8081
)

// TokenConfig holds the material paths for one recipient token section.
type TokenConfig struct {
	// Name is the config section the token was loaded from.
	Name string
	// Certificate is the path to the PEM X.509 certificate file.
	Certificate string
	// Key is the path to the PEM private key file.
	Key string
	// Passphrase optionally unlocks an encrypted private key.
	Passphrase string
}

// Config holds all application configuration.
type Config struct {
	// Namespace scopes shared-cache keys and log prefixes.
	// Defaults to the config file basename with the extension stripped.
	Namespace string
	// CacheStrategy selects the cache layer: "preload" or "memcache".
	CacheStrategy string
	// CacheCipher selects the AEAD used to seal shared-cache entries:
	// "aes-gcm" or "chacha20-poly1305".
	CacheCipher string
	// LogTarget is "console" or "syslog".
	LogTarget string
	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string

	// CryptoOpenSSL is the path to an external openssl binary. When set, the
	// subprocess crypto backend is used instead of the native CMS library.
	CryptoOpenSSL string
	// CryptoBaseDir is the base for relative certificate and key paths.
	CryptoBaseDir string
	// Tokens lists the token sections in configured order.
	Tokens []TokenConfig

	// SocketFile is the path of the Unix-domain socket.
	SocketFile string
	// SocketMode is the octal mode applied to the socket after bind.
	SocketMode fs.FileMode
	// MaxServers bounds the number of concurrent request workers.
	MaxServers int
	// PidFile defaults to "<socket_file>.pid".
	PidFile string
	// User and Group name the drop-privileges target (informational).
	User  string
	Group string
	// RateLimit caps accepted connections per second (0 disables).
	RateLimit float64
	// RateBurst is the accept rate limiter burst size.
	RateBurst int
	// ReadTimeoutSeconds bounds how long a worker waits for the command line.
	ReadTimeoutSeconds int

	// StorageDir is the directory holding the persistent encrypted slots.
	StorageDir string
	// StorageUmask is applied before slot files are created.
	StorageUmask fs.FileMode

	// MemcacheServers is the host list for the shared cache.
	MemcacheServers []string

	// AccessRead and AccessWrite globally allow or deny the get/set verbs.
	AccessRead  bool
	AccessWrite bool

	// MetricsEnabled turns the Prometheus metrics endpoint on.
	MetricsEnabled bool
	// MetricsPort is the port for the metrics HTTP server.
	MetricsPort int
}

// referencePattern matches $(key) and $(section.key) config references.
var referencePattern = regexp.MustCompile(`\$\((\w+(?:\.\w+)?)\)`)

// maxResolvePasses bounds reference substitution so mutually recursive
// references fail instead of looping.
const maxResolvePasses = 16

// Load reads and fully resolves the configuration file at path.
func Load(path string) (*Config, error) {
	loadDotEnv()

	file, err := ini.Load(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfig, "load %s: %v", path, err)
	}

	raw := flatten(file)
	if err := resolveReferences(raw); err != nil {
		return nil, err
	}
	if err := resolveHooks(raw); err != nil {
		return nil, err
	}

	cfg, err := build(path, raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flatten converts the parsed INI tree into a section->key->value map.
// Keys in the unnamed leading section land under "".
func flatten(file *ini.File) map[string]map[string]string {
	raw := make(map[string]map[string]string)
	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			name = ""
		}
		if len(section.Keys()) == 0 {
			continue
		}
		raw[name] = section.KeysHash()
	}
	return raw
}

// resolveReferences substitutes $(section.key) and $(key) references until a
// fixed point is reached. Unresolved references after the pass cap are a
// configuration error.
func resolveReferences(raw map[string]map[string]string) error {
	lookup := func(ref string) (string, bool) {
		section, key := "", ref
		if i := strings.IndexByte(ref, '.'); i >= 0 {
			section, key = ref[:i], ref[i+1:]
		}
		if keys, ok := raw[section]; ok {
			if value, ok := keys[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	for pass := 0; pass < maxResolvePasses; pass++ {
		changed := false
		for _, keys := range raw {
			for key, value := range keys {
				next := referencePattern.ReplaceAllStringFunc(value, func(match string) string {
					ref := referencePattern.FindStringSubmatch(match)[1]
					if resolved, ok := lookup(ref); ok {
						return resolved
					}
					return match
				})
				if next != value {
					keys[key] = next
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for section, keys := range raw {
		for key, value := range keys {
			if m := referencePattern.FindString(value); m != "" {
				return apperrors.Wrapf(apperrors.ErrConfig,
					"unresolvable reference %s in %s.%s", m, section, key)
			}
		}
	}
	return nil
}

// build maps the resolved raw values onto the typed Config.
func build(path string, raw map[string]map[string]string) (*Config, error) {
	get := func(section, key, fallback string) string {
		if keys, ok := raw[section]; ok {
			if value, ok := keys[key]; ok && value != "" {
				return value
			}
		}
		return fallback
	}

	cfg := &Config{
		Namespace:     get("", "namespace", defaultNamespace(path)),
		CacheStrategy: get("", "cache_strategy", DefaultCacheStrategy),
		CacheCipher:   get("", "cache_cipher", DefaultCacheCipher),
		LogTarget:     get("", "log", DefaultLogTarget),
		LogLevel:      env.GetString("KEYNANNY_LOG_LEVEL", get("", "log_level", "info")),

		CryptoOpenSSL: get("crypto", "openssl", ""),
		CryptoBaseDir: get("crypto", "base_dir", ""),

		SocketFile: get("server", "socket_file", ""),
		MaxServers: DefaultMaxServers,
		User:       get("server", "user", ""),
		Group:      get("server", "group", ""),

		StorageDir: get("storage", "dir", ""),

		AccessRead:  parseBool(get("access", "read", "true")),
		AccessWrite: parseBool(get("access", "write", "true")),

		MetricsEnabled: parseBool(get("metrics", "enabled", "false")),
		MetricsPort:    DefaultMetricsPort,
	}

	cfg.PidFile = get("server", "pid_file", cfg.SocketFile+".pid")

	if value := get("server", "max_servers", ""); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "server.max_servers %q: %v", value, err)
		}
		cfg.MaxServers = n
	}
	if value := get("metrics", "port", ""); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "metrics.port %q: %v", value, err)
		}
		cfg.MetricsPort = n
	}
	if value := get("server", "rate_limit", ""); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "server.rate_limit %q: %v", value, err)
		}
		cfg.RateLimit = f
	}
	if value := get("server", "rate_burst", ""); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "server.rate_burst %q: %v", value, err)
		}
		cfg.RateBurst = n
	}
	cfg.ReadTimeoutSeconds = DefaultReadTimeout
	if value := get("server", "read_timeout", ""); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "server.read_timeout %q: %v", value, err)
		}
		cfg.ReadTimeoutSeconds = n
	}

	mode, err := parseOctalMode(get("server", "socket_mode", ""), DefaultSocketMode)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfig, "server.socket_mode: %v", err)
	}
	cfg.SocketMode = mode

	umask, err := parseOctalMode(get("storage", "umask", ""), DefaultUmask)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfig, "storage.umask: %v", err)
	}
	cfg.StorageUmask = umask

	if servers := get("memcache", "servers", ""); servers != "" {
		for _, host := range strings.Split(servers, ",") {
			if host = strings.TrimSpace(host); host != "" {
				cfg.MemcacheServers = append(cfg.MemcacheServers, host)
			}
		}
	}

	tokens, err := buildTokens(raw, get("crypto", "token", ""), cfg.CryptoBaseDir)
	if err != nil {
		return nil, err
	}
	cfg.Tokens = tokens

	return cfg, nil
}

// buildTokens resolves the crypto.token section list into TokenConfig entries,
// applying base_dir to relative paths.
func buildTokens(raw map[string]map[string]string, list, baseDir string) ([]TokenConfig, error) {
	if list == "" {
		return nil, nil
	}

	var tokens []TokenConfig
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		section, ok := raw[name]
		if !ok {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "token section [%s] not found", name)
		}
		token := TokenConfig{
			Name:        name,
			Certificate: section["certificate"],
			Key:         section["key"],
			Passphrase:  section["passphrase"],
		}
		if token.Certificate == "" {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "token section [%s] missing certificate", name)
		}
		if token.Key == "" {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, "token section [%s] missing key", name)
		}
		token.Certificate = joinBase(baseDir, token.Certificate)
		token.Key = joinBase(baseDir, token.Key)
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// joinBase prefixes relative paths with the configured base directory.
func joinBase(base, path string) string {
	if base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// defaultNamespace derives the namespace from the config file basename.
func defaultNamespace(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// parseOctalMode parses an octal file mode string, returning fallback for "".
func parseOctalMode(value string, fallback fs.FileMode) (fs.FileMode, error) {
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(value, "0o"), 8, 32)
	if err != nil {
		return 0, err
	}
	return fs.FileMode(n), nil
}

// parseBool accepts the truthy spellings commonly found in existing configs.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
