package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CONTRAX"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "contrax.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultStripePriceBasic  = "price_1S3KUV3hWlIsRkVIVoplem92"
	defaultStripePriceStd    = "price_1S3KV83hWlIsRkVINxTJ4Cgp"
	defaultMPPriceBasic      = 25.00
	defaultMPPriceStandard   = 75.00
	defaultMPCurrency        = "BRL"
	defaultPayerEmail        = "teste@teste.com"
	defaultSuccessURL        = "contrax://success"
	defaultCancelURL         = "contrax://cancel"
	defaultProviderTimeout   = 10 * time.Second
	defaultDedupeTTL         = 24 * time.Hour
	defaultQuotaTimezone     = "UTC"
	defaultCORSAllowedOrigin = "*"
)

// Variable names used by the deployments that predate the CONTRAX_ prefix.
var legacyEnvBindings = map[string]string{
	"stripe.secret_key":        "STRIPE_SECRET_KEY",
	"stripe.webhook_secret":    "STRIPE_WEBHOOK_SECRET",
	"mercadopago.access_token": "MERCADOPAGO_ACCESS_TOKEN",
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	CORSAllowedOrigins []string
	DatabasePath       string
	LogLevel           string
	LogFormat          string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceBasic    string
	StripePriceStandard string

	MercadoPagoAccessToken   string
	MercadoPagoPriceBasic    float64
	MercadoPagoPriceStandard float64
	MercadoPagoCurrency      string
	DefaultPayerEmail        string

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	ProviderTimeout    time.Duration

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	DedupeTTL     time.Duration

	QuotaLocation  *time.Location
	RenderCompress bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
	for key, legacyName := range legacyEnvBindings {
		_ = configViper.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacyName)
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.cors_allowed_origins", []string{defaultCORSAllowedOrigin})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("stripe.price_basic", defaultStripePriceBasic)
	configViper.SetDefault("stripe.price_standard", defaultStripePriceStd)
	configViper.SetDefault("mercadopago.price_basic", defaultMPPriceBasic)
	configViper.SetDefault("mercadopago.price_standard", defaultMPPriceStandard)
	configViper.SetDefault("mercadopago.currency", defaultMPCurrency)
	configViper.SetDefault("mercadopago.default_payer_email", defaultPayerEmail)
	configViper.SetDefault("checkout.success_url", defaultSuccessURL)
	configViper.SetDefault("checkout.cancel_url", defaultCancelURL)
	configViper.SetDefault("providers.timeout", defaultProviderTimeout)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("webhooks.dedupe_ttl", defaultDedupeTTL)
	configViper.SetDefault("quota.timezone", defaultQuotaTimezone)
	configViper.SetDefault("render.compress", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:              configViper.GetString("http.address"),
		CORSAllowedOrigins:       splitList(configViper.GetStringSlice("http.cors_allowed_origins")),
		DatabasePath:             configViper.GetString("database.path"),
		LogLevel:                 configViper.GetString("log.level"),
		LogFormat:                configViper.GetString("log.format"),
		StripeSecretKey:          configViper.GetString("stripe.secret_key"),
		StripeWebhookSecret:      configViper.GetString("stripe.webhook_secret"),
		StripePriceBasic:         configViper.GetString("stripe.price_basic"),
		StripePriceStandard:      configViper.GetString("stripe.price_standard"),
		MercadoPagoAccessToken:   configViper.GetString("mercadopago.access_token"),
		MercadoPagoPriceBasic:    configViper.GetFloat64("mercadopago.price_basic"),
		MercadoPagoPriceStandard: configViper.GetFloat64("mercadopago.price_standard"),
		MercadoPagoCurrency:      configViper.GetString("mercadopago.currency"),
		DefaultPayerEmail:        configViper.GetString("mercadopago.default_payer_email"),
		CheckoutSuccessURL:       configViper.GetString("checkout.success_url"),
		CheckoutCancelURL:        configViper.GetString("checkout.cancel_url"),
		ProviderTimeout:          configViper.GetDuration("providers.timeout"),
		RedisAddress:             configViper.GetString("redis.address"),
		RedisPassword:            configViper.GetString("redis.password"),
		RedisDB:                  configViper.GetInt("redis.db"),
		DedupeTTL:                configViper.GetDuration("webhooks.dedupe_ttl"),
		RenderCompress:           configViper.GetBool("render.compress"),
	}

	timezone := strings.TrimSpace(configViper.GetString("quota.timezone"))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("quota.timezone %q is invalid: %w", timezone, err)
	}
	cfg.QuotaLocation = location

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts comma and whitespace separated values; env values arrive as one string.
func splitList(values []string) []string {
	items := make([]string, 0, len(values))
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}

func (c AppConfig) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"database.path", c.DatabasePath},
		{"stripe.secret_key", c.StripeSecretKey},
		{"stripe.webhook_secret", c.StripeWebhookSecret},
		{"stripe.price_basic", c.StripePriceBasic},
		{"stripe.price_standard", c.StripePriceStandard},
		{"mercadopago.access_token", c.MercadoPagoAccessToken},
		{"checkout.success_url", c.CheckoutSuccessURL},
		{"checkout.cancel_url", c.CheckoutCancelURL},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required", field.key)
		}
	}
	if c.MercadoPagoPriceBasic <= 0 || c.MercadoPagoPriceStandard <= 0 {
		return fmt.Errorf("mercadopago prices must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("webhooks.dedupe_ttl must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console", "":
	default:
		return fmt.Errorf("log.format %q is not supported", c.LogFormat)
	}
	return nil
}
