package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/tapestry/internal/store"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Blob backends.
const (
	BlobBackendFS  = "fs"
	BlobBackendGCS = "gcs"
)

// Export fetchers.
const (
	FetcherHTTP = "http"
	FetcherBlob = "blob"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Database DatabaseConfig    `yaml:"database"`
	Blob     BlobConfig        `yaml:"blob"`
	Auth     AuthConfig        `yaml:"auth"`
	Import   ImportConfig      `yaml:"import"`
	Export   ExportConfig      `yaml:"export"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Blob.Validate(); err != nil {
		return err
	}
	if err := c.Import.Validate(); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// PublicURL is the externally reachable base URL, used to sign blob URLs.
	PublicURL string `yaml:"public_url"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PublicURL, is.URL),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DatabaseConfig selects the relational store.
//
// JobsDSN is the database holding import jobs. With SQLite it defaults to a
// sibling file of DSN so that job progress stays writable while an import
// transaction holds the graph database.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	JobsDSN string `yaml:"jobs_dsn"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DSN, validation.Required),
	); err != nil {
		return err
	}
	_, err := store.ParseDialect(c.Driver)
	return err
}

// Dialect returns the parsed driver. Call after Validate.
func (c *DatabaseConfig) Dialect() store.Dialect {
	d, _ := store.ParseDialect(c.Driver)
	return d
}

// JobsSource returns the DSN of the jobs database.
func (c *DatabaseConfig) JobsSource() string {
	if c.JobsDSN != "" {
		return c.JobsDSN
	}
	if c.Dialect() == store.DialectSQLite {
		return c.DSN + "-jobs"
	}
	return c.DSN
}

// BlobConfig configures the object store holding hosted assets and
// uploaded archives.
type BlobConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	Secret  string        `yaml:"secret"`
	URLTTL  time.Duration `yaml:"url_ttl"`
	GCS     GCSConfig     `yaml:"gcs"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Validate validates the blob configuration.
func (c *BlobConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BlobBackendFS, BlobBackendGCS)),
		validation.Field(&c.URLTTL, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BlobBackendFS:
		return validation.ValidateStruct(c,
			validation.Field(&c.Path, validation.Required),
			validation.Field(&c.Secret, validation.Required, validation.Length(16, 0)),
		)
	default:
		return validation.ValidateStruct(&c.GCS,
			validation.Field(&c.GCS.Bucket, validation.Required),
		)
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ImportConfig configures the import worker and the inbox directory.
type ImportConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TxTimeout    time.Duration `yaml:"tx_timeout"`
	// InboxDir is watched for dropped archives when set.
	InboxDir string `yaml:"inbox_dir"`
	// Owner owns tapestries imported from the inbox and over MCP.
	Owner string `yaml:"owner"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PollInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.TxTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Owner, validation.When(c.InboxDir != "", validation.Required)),
	)
}

// ExportConfig configures how the packager fetches hosted assets.
type ExportConfig struct {
	Fetcher      string        `yaml:"fetcher"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Retries      int           `yaml:"retries"`
	Compression  int           `yaml:"compression"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Fetcher, validation.Required, validation.In(FetcherHTTP, FetcherBlob)),
		validation.Field(&c.FetchTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Retries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.Compression, validation.Min(-2), validation.Max(9)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			PublicURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver: string(store.DialectSQLite),
			DSN:    "./tapestry.db",
		},
		Blob: BlobConfig{
			Backend: BlobBackendFS,
			Path:    "./blobs",
			URLTTL:  15 * time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Import: ImportConfig{
			PollInterval: 5 * time.Second,
			TxTimeout:    3 * time.Hour,
			Owner:        "local",
		},
		Export: ExportConfig{
			Fetcher:      FetcherBlob,
			FetchTimeout: time.Minute,
			Retries:      3,
			Compression:  6,
		},
	}
}
