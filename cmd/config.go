package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/porthorian/statelessauth"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
)

const envPrefix = "STATELESSAUTH"

type fileConfig struct {
	Security securityFile `mapstructure:"security"`
	Runtime  runtimeFile  `mapstructure:"runtime"`
	Users    []userFile   `mapstructure:"users"`
}

type securityFile struct {
	MinimumTokenValidity time.Duration  `mapstructure:"minimum-token-validity"`
	Server               serverFile     `mapstructure:"server"`
	Login                loginFile      `mapstructure:"login"`
	Encryption           encryptionFile `mapstructure:"encryption"`
	Cookies              cookiesFile    `mapstructure:"cookies"`
}

type serverFile struct {
	Modes  []string         `mapstructure:"modes"`
	OAuth2 serverOAuth2File `mapstructure:"oauth2"`
}

type serverOAuth2File struct {
	Mode        string          `mapstructure:"mode"`
	JWT         jwtFile         `mapstructure:"jwt"`
	OpaqueToken opaqueTokenFile `mapstructure:"opaque-token"`
}

type jwtFile struct {
	JWKSetURI       string        `mapstructure:"jwk-set-uri"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
}

type opaqueTokenFile struct {
	IntrospectionURI      string        `mapstructure:"introspection-uri"`
	ClientID              string        `mapstructure:"client-id"`
	ClientSecret          string        `mapstructure:"client-secret"`
	DefaultTokenExpiresIn time.Duration `mapstructure:"default-token-expires-in"`
	MaxCacheDuration      time.Duration `mapstructure:"max-cache-duration"`
	PreCacheDuration      time.Duration `mapstructure:"pre-cache-duration"`
}

type loginFile struct {
	Enabled     bool            `mapstructure:"enabled"`
	LoginPage   string          `mapstructure:"login-page"`
	RedirectURI string          `mapstructure:"redirect-uri"`
	Modes       []string        `mapstructure:"modes"`
	OAuth2      loginOAuth2File `mapstructure:"oauth2"`
	Classic     classicFile     `mapstructure:"classic"`
}

type loginOAuth2File struct {
	ClientID         string   `mapstructure:"client-id"`
	ClientSecret     string   `mapstructure:"client-secret"`
	Provider         string   `mapstructure:"provider"`
	RedirectURI      string   `mapstructure:"redirect-uri"`
	IssuerURI        string   `mapstructure:"issuer-uri"`
	AuthorizationURI string   `mapstructure:"authorization-uri"`
	TokenURI         string   `mapstructure:"token-uri"`
	Scopes           []string `mapstructure:"scopes"`
	DisablePKCE      bool     `mapstructure:"disable-pkce"`
}

type classicFile struct {
	CookieAge time.Duration `mapstructure:"cookie-age"`
}

type encryptionFile struct {
	SecretKey  string `mapstructure:"secret-key"`
	CipherMode string `mapstructure:"cipher-mode"`
}

type cookiesFile struct {
	BasePath                 string `mapstructure:"base-path"`
	Insecure                 bool   `mapstructure:"insecure"`
	AccessTokenName          string `mapstructure:"access-token-name"`
	AuthorizationRequestName string `mapstructure:"authorization-request-name"`
	ClassicAuthName          string `mapstructure:"classic-auth-name"`
}

type runtimeFile struct {
	Storage storageFile `mapstructure:"storage"`
	Cache   cacheFile   `mapstructure:"cache"`
}

type storageFile struct {
	Backend  string       `mapstructure:"backend"`
	Postgres postgresFile `mapstructure:"postgres"`
}

type postgresFile struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn-max-idle-time"`
	PingTimeout     time.Duration `mapstructure:"ping-timeout"`
}

type cacheFile struct {
	Backend string     `mapstructure:"backend"`
	Memory  memoryFile `mapstructure:"memory"`
	Redis   redisFile  `mapstructure:"redis"`
}

type memoryFile struct {
	CleanupInterval time.Duration `mapstructure:"cleanup-interval"`
}

type redisFile struct {
	Address     string        `mapstructure:"address"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	Namespace   string        `mapstructure:"namespace"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
}

type userFile struct {
	Name        string   `mapstructure:"name"`
	SecretHash  string   `mapstructure:"secret-hash"`
	Authorities []string `mapstructure:"authorities"`
}

// envKeys are the scalar settings that can be overridden through
// STATELESSAUTH_* variables, e.g. security.encryption.secret-key becomes
// STATELESSAUTH_SECURITY_ENCRYPTION_SECRET_KEY.
var envKeys = []string{
	"security.minimum-token-validity",
	"security.server.modes",
	"security.server.oauth2.mode",
	"security.server.oauth2.jwt.jwk-set-uri",
	"security.server.oauth2.jwt.issuer",
	"security.server.oauth2.jwt.audience",
	"security.server.oauth2.opaque-token.introspection-uri",
	"security.server.oauth2.opaque-token.client-id",
	"security.server.oauth2.opaque-token.client-secret",
	"security.login.enabled",
	"security.login.redirect-uri",
	"security.login.modes",
	"security.login.oauth2.client-id",
	"security.login.oauth2.client-secret",
	"security.login.oauth2.redirect-uri",
	"security.login.oauth2.issuer-uri",
	"security.login.login-page",
	"security.encryption.secret-key",
	"security.encryption.cipher-mode",
	"security.cookies.base-path",
	"security.cookies.insecure",
	"security.cookies.access-token-name",
	"security.cookies.authorization-request-name",
	"security.cookies.classic-auth-name",
	"runtime.storage.backend",
	"runtime.storage.postgres.dsn",
	"runtime.cache.backend",
	"runtime.cache.redis.address",
	"runtime.cache.redis.password",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// loadConfig reads path (optional) and the environment into a library config.
func loadConfig(path string) (statelessauth.Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return statelessauth.Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var file fileConfig
	if err := v.Unmarshal(&file); err != nil {
		return statelessauth.Config{}, fmt.Errorf("decode config: %w", err)
	}

	return file.toConfig(), nil
}

func toModes(values []string) []statelessauth.Mode {
	var modes []statelessauth.Mode
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				modes = append(modes, statelessauth.Mode(part))
			}
		}
	}
	return modes
}

func (f fileConfig) toConfig() statelessauth.Config {
	s := f.Security
	config := statelessauth.Config{
		Security: statelessauth.SecurityConfig{
			MinimumTokenValidity: s.MinimumTokenValidity,
			Server: statelessauth.ServerConfig{
				Modes: toModes(s.Server.Modes),
				OAuth2: statelessauth.ServerOAuth2Config{
					Mode: statelessauth.OAuth2Mode(s.Server.OAuth2.Mode),
					JWT: statelessauth.JWTConfig{
						JWKSetURI:       s.Server.OAuth2.JWT.JWKSetURI,
						Issuer:          s.Server.OAuth2.JWT.Issuer,
						Audience:        s.Server.OAuth2.JWT.Audience,
						RefreshInterval: s.Server.OAuth2.JWT.RefreshInterval,
					},
					OpaqueToken: statelessauth.OpaqueTokenConfig(s.Server.OAuth2.OpaqueToken),
				},
			},
			Login: statelessauth.LoginConfig{
				Enabled:     s.Login.Enabled,
				LoginPage:   s.Login.LoginPage,
				RedirectURI: s.Login.RedirectURI,
				Modes:       toModes(s.Login.Modes),
				OAuth2:      statelessauth.LoginOAuth2Config(s.Login.OAuth2),
				Classic:     statelessauth.ClassicLoginConfig{CookieAge: s.Login.Classic.CookieAge},
			},
			Encryption: statelessauth.EncryptionConfig{
				SecretKey:  s.Encryption.SecretKey,
				CipherMode: ocrypto.CipherMode(s.Encryption.CipherMode),
			},
			Cookies: statelessauth.CookieConfig(s.Cookies),
		},
		Runtime: statelessauth.RuntimeConfig{
			Storage: statelessauth.StorageConfig{
				Backend: statelessauth.StorageBackend(f.Runtime.Storage.Backend),
				Postgres: statelessauth.PostgresConfig{
					DSN:             f.Runtime.Storage.Postgres.DSN,
					MaxOpenConns:    f.Runtime.Storage.Postgres.MaxOpenConns,
					MaxIdleConns:    f.Runtime.Storage.Postgres.MaxIdleConns,
					ConnMaxLifetime: f.Runtime.Storage.Postgres.ConnMaxLifetime,
					ConnMaxIdleTime: f.Runtime.Storage.Postgres.ConnMaxIdleTime,
					PingTimeout:     f.Runtime.Storage.Postgres.PingTimeout,
				},
			},
			Cache: statelessauth.CacheConfig{
				Backend: statelessauth.CacheBackend(f.Runtime.Cache.Backend),
				Memory:  statelessauth.MemoryCacheConfig{CleanupInterval: f.Runtime.Cache.Memory.CleanupInterval},
				Redis:   statelessauth.RedisCacheConfig(f.Runtime.Cache.Redis),
			},
		},
	}

	if len(f.Users) > 0 {
		users := make([]directory.User, 0, len(f.Users))
		for _, user := range f.Users {
			users = append(users, directory.User{
				Name:        user.Name,
				SecretHash:  user.SecretHash,
				Authorities: user.Authorities,
			})
		}
		config.Directory = directory.NewStatic(nil, users...)
	}

	return config
}
