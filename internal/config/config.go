package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	S3       S3Config       `mapstructure:"s3"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// UploadConfig carries the knobs of the upload session and quota engine.
type UploadConfig struct {
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	AllowedMimeTypes []string      `mapstructure:"allowed_mime_types"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	FreeMonthlyLimit int64         `mapstructure:"free_monthly_limit"`
	// URLExpiry is the single expiry window for both presigned upload and
	// download URLs.
	URLExpiry time.Duration `mapstructure:"url_expiry"`
	// MeteredArtifactTTL is the lifetime assigned to artifacts created on a
	// metered plan. Unmetered artifacts never expire.
	MeteredArtifactTTL time.Duration `mapstructure:"metered_artifact_ttl"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Environment variables override the file, e.g. server.address ->
	// SERVER_ADDRESS, upload.max_file_size -> UPLOAD_MAX_FILE_SIZE.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "pixbin")
	viper.SetDefault("s3.use_ssl", true)
	viper.SetDefault("jwt.expiration", "1h")

	viper.SetDefault("upload.max_file_size", 10*1024*1024) // 10 MiB
	viper.SetDefault("upload.allowed_mime_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
	})
	viper.SetDefault("upload.max_batch_size", 50)
	viper.SetDefault("upload.max_retries", 3)
	viper.SetDefault("upload.free_monthly_limit", 10)
	viper.SetDefault("upload.url_expiry", "15m")
	viper.SetDefault("upload.metered_artifact_ttl", "720h") // 30 days

	err = viper.ReadInConfig()
	// A missing config file is fine, env vars and defaults still apply.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
