package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string
	WSOrigin      string
	AppMode       string

	MT5APIURL   string
	MT5APIToken string
	MT5Timeout  time.Duration

	CregisAPIURL      string
	CregisProjectID   string
	CregisAPIKey      string
	CregisCallbackURL string
	CregisSuccessURL  string
	CregisCancelURL   string
	CregisOrderTTL    time.Duration

	TransferMin decimal.Decimal
	TransferMax decimal.Decimal

	RedisAddr       string
	KafkaBrokers    []string
	KafkaAuditTopic string

	TelegramBotToken string
	AlertChatID      int64
}

func Load() (Config, error) {
	var c Config
	var missing []string

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	c.HTTPAddr = required("HTTP_ADDR")
	c.DBDSN = required("DB_DSN")
	c.JWTIssuer = required("JWT_ISSUER")
	c.JWTSecret = required("JWT_SECRET")
	c.InternalToken = required("INTERNAL_API_TOKEN")
	c.WSOrigin = required("WS_ORIGIN")

	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, errors.New("invalid JWT_TTL: " + err.Error())
		}
		c.JWTTTL = d
	}

	c.AppMode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	if c.AppMode == "" {
		c.AppMode = "development"
	}
	if c.AppMode != "development" && c.AppMode != "production" {
		return c, errors.New("invalid APP_MODE: use development or production")
	}

	c.MT5APIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("MT5_API_URL")), "/")
	c.MT5APIToken = os.Getenv("MT5_API_TOKEN")
	if c.AppMode == "production" && c.MT5APIURL == "" {
		missing = append(missing, "MT5_API_URL")
	}
	c.MT5Timeout = durationOrDefault("MT5_TIMEOUT", 15*time.Second)

	c.CregisAPIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CREGIS_API_URL")), "/")
	c.CregisProjectID = os.Getenv("CREGIS_PROJECT_ID")
	c.CregisAPIKey = os.Getenv("CREGIS_API_KEY")
	c.CregisCallbackURL = os.Getenv("CREGIS_CALLBACK_URL")
	c.CregisSuccessURL = os.Getenv("CREGIS_SUCCESS_URL")
	c.CregisCancelURL = os.Getenv("CREGIS_CANCEL_URL")
	c.CregisOrderTTL = durationOrDefault("CREGIS_ORDER_TTL", 30*time.Minute)
	if c.AppMode == "production" && c.CregisAPIURL != "" {
		if c.CregisProjectID == "" {
			missing = append(missing, "CREGIS_PROJECT_ID")
		}
		if c.CregisAPIKey == "" {
			missing = append(missing, "CREGIS_API_KEY")
		}
		if c.CregisCallbackURL == "" {
			missing = append(missing, "CREGIS_CALLBACK_URL")
		}
	}

	var err error
	c.TransferMin, err = decimalOrDefault("TRANSFER_MIN", "1")
	if err != nil {
		return c, err
	}
	c.TransferMax, err = decimalOrDefault("TRANSFER_MAX", "100000")
	if err != nil {
		return c, err
	}
	if c.TransferMax.LessThan(c.TransferMin) {
		return c, errors.New("TRANSFER_MAX must be >= TRANSFER_MIN")
	}

	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if v := strings.TrimSpace(b); v != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, v)
			}
		}
	}
	c.KafkaAuditTopic = strings.TrimSpace(os.Getenv("KAFKA_AUDIT_TOPIC"))
	if c.KafkaAuditTopic == "" {
		c.KafkaAuditTopic = "backoffice.audit"
	}

	c.TelegramBotToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if c.AppMode == "production" && c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	alertChat := strings.TrimSpace(os.Getenv("ALERT_TELEGRAM_CHAT_ID"))
	if alertChat != "" {
		id, err := strconv.ParseInt(alertChat, 10, 64)
		if err != nil {
			return c, errors.New("invalid ALERT_TELEGRAM_CHAT_ID")
		}
		c.AlertChatID = id
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func decimalOrDefault(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + key)
	}
	return d, nil
}
