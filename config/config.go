package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// EXPLORVIZ_PERSISTENCE_URI for persistence.uri.
const EnvPrefix = "EXPLORVIZ"

// SupportedGraphSchemes are the URI schemes accepted for persistence.uri.
var SupportedGraphSchemes = []string{"neo4j", "neo4j+s", "neo4j+ssc", "bolt", "bolt+s", "bolt+ssc"}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
}

// RateLimitConfig controls per-client request limiting on the REST surface.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// RESTConfig describes the HTTP surface.
type RESTConfig struct {
	Enabled           bool            `mapstructure:"enabled"`
	Host              string          `mapstructure:"host"`
	Port              int             `mapstructure:"port" validate:"min=0,max=65535"`
	ReadHeaderTimeout time.Duration   `mapstructure:"read_header_timeout" validate:"gt=0"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns the host:port the REST listener binds to.
func (r RESTConfig) Addr() string {
	return joinHostPort(r.Host, r.Port)
}

// GRPCConfig describes the RPC surface.
type GRPCConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"min=0,max=65535"`
	MaxRecvMsgSize int    `mapstructure:"max_recv_msg_size" validate:"gte=0"`
}

// Addr returns the host:port the RPC listener binds to.
func (g GRPCConfig) Addr() string {
	return joinHostPort(g.Host, g.Port)
}

// CacheConfig controls the read cache in front of the graph store.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// PersistenceConfig is the graph database binding.
type PersistenceConfig struct {
	URI      string `mapstructure:"uri" validate:"required"`
	Username string `mapstructure:"username"`
	// CredentialsRef is a credential reference (see SecretResolver.Resolve), never
	// the password itself.
	CredentialsRef        string        `mapstructure:"credentials_ref"`
	Database              string        `mapstructure:"database"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size" validate:"gte=0"`
	Cache                 CacheConfig   `mapstructure:"cache"`
}

// RedisConfig is the optional backend for distributed rate limiting.
type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr" validate:"required_if=Enabled true"`
	PasswordRef string `mapstructure:"password_ref"`
	DB          int    `mapstructure:"db" validate:"gte=0"`
	PoolSize    int    `mapstructure:"pool_size" validate:"gte=0"`
}

// ShutdownConfig bounds the drain phase.
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gt=0"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// SecretsConfig holds the connection settings for vault: and awssm:
// credential references.
type SecretsConfig struct {
	Vault struct {
		Address   string `mapstructure:"address"`
		Token     string `mapstructure:"token"`
		MountPath string `mapstructure:"mount_path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// Config holds all configuration for the persistence service. It is not
// modified after LoadConfig returns.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	REST        RESTConfig        `mapstructure:"rest"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Shutdown    ShutdownConfig    `mapstructure:"shutdown"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "explorviz-persistence")
	v.SetDefault("service.environment", "development")

	v.SetDefault("rest.enabled", true)
	v.SetDefault("rest.host", "0.0.0.0")
	v.SetDefault("rest.port", 8080)
	v.SetDefault("rest.read_header_timeout", 10*time.Second)
	v.SetDefault("rest.rate_limit.enabled", false)
	v.SetDefault("rest.rate_limit.requests_per_second", 50.0)
	v.SetDefault("rest.rate_limit.burst", 100)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 9000)
	v.SetDefault("grpc.max_recv_msg_size", 4*1024*1024)

	// No default URI: the graph binding must be declared explicitly.
	v.SetDefault("persistence.uri", "")
	v.SetDefault("persistence.username", "neo4j")
	v.SetDefault("persistence.credentials_ref", "")
	v.SetDefault("persistence.database", "")
	v.SetDefault("persistence.connect_timeout", 5*time.Second)
	v.SetDefault("persistence.max_connection_pool_size", 50)
	v.SetDefault("persistence.cache.enabled", true)
	v.SetDefault("persistence.cache.size", 1024)
	v.SetDefault("persistence.cache.ttl", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password_ref", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("shutdown.grace_period", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.mount_path", "secret")
	v.SetDefault("secrets.aws.region", "")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads defaults, the config file and EXPLORVIZ_* environment
// overrides, in increasing precedence. When path is empty, config.yaml is
// searched in . and ./config and its absence is not an error.
//
// The result is not validated; call Validate before using it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone. The graph URI
// is empty, so the result does not validate until one is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are typed Go values and always decode.
	_ = v.Unmarshal(&config)
	return &config
}

// ValidationError names one violated field by its config key.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by Validate and lists every violation.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Fields returns the config keys that failed validation.
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(ve))
	for _, e := range ve {
		fields = append(fields, e.Field)
	}
	return fields
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report config keys instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules. It returns
// ValidationErrors holding every violation, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return ValidationErrors{{Field: "config", Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
				Message: describeTag(fe),
			})
		}
	}

	if !c.REST.Enabled && !c.GRPC.Enabled {
		errs = append(errs, ValidationError{Field: "rest.enabled", Message: "at least one of rest or grpc must be enabled"})
	}

	if c.Persistence.URI != "" {
		if err := validateGraphURI(c.Persistence.URI); err != nil {
			errs = append(errs, ValidationError{Field: "persistence.uri", Message: err.Error()})
		}
	}

	if c.REST.RateLimit.Enabled {
		if c.REST.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, ValidationError{Field: "rest.rate_limit.requests_per_second", Message: "must be positive when rate limiting is enabled"})
		}
		if c.REST.RateLimit.Burst <= 0 {
			errs = append(errs, ValidationError{Field: "rest.rate_limit.burst", Message: "must be positive when rate limiting is enabled"})
		}
	}

	if c.Persistence.Cache.Enabled && c.Persistence.Cache.Size == 0 {
		errs = append(errs, ValidationError{Field: "persistence.cache.size", Message: "must be positive when the cache is enabled"})
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, ValidationError{Field: "tracing.endpoint", Message: "is required when tracing is enabled"})
	}

	for _, ref := range []struct{ field, value string }{
		{"persistence.credentials_ref", c.Persistence.CredentialsRef},
		{"redis.password_ref", c.Redis.PasswordRef},
	} {
		if _, err := ParseSecretRef(ref.value); err != nil {
			errs = append(errs, ValidationError{Field: ref.field, Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateGraphURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URI: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	for _, scheme := range SupportedGraphSchemes {
		if parsed.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q (expected one of %s)", parsed.Scheme, strings.Join(SupportedGraphSchemes, ", "))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
