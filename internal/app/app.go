package app

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/rezonia/invoice-pipeline/internal/assembler"
	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/compliance"
	"github.com/rezonia/invoice-pipeline/internal/config"
	"github.com/rezonia/invoice-pipeline/internal/delivery"
	"github.com/rezonia/invoice-pipeline/internal/render/pdf"
	"github.com/rezonia/invoice-pipeline/internal/render/xrechnung"
	"github.com/rezonia/invoice-pipeline/internal/repository"
	"github.com/rezonia/invoice-pipeline/internal/repository/memory"
	"github.com/rezonia/invoice-pipeline/internal/repository/postgres"
	"github.com/rezonia/invoice-pipeline/internal/signature"
	"github.com/rezonia/invoice-pipeline/internal/storage"
)

// App holds every wired component of the pipeline
type App struct {
	Config config.Config
	Logger *slog.Logger
	Clock  clockwork.Clock

	Store      *repository.Store
	Objects    storage.ObjectStore
	Files      *storage.FileStore
	Signer     *signature.Signer
	Audit      *audit.Recorder
	Storage    *storage.Manager
	Compliance *compliance.Engine
	Delivery   *delivery.Router

	// Transport records mail and SMS when no real provider is configured
	Transport *delivery.LogTransport

	closers []func(context.Context) error
}

// Option configures New
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

// WithClock replaces the real clock
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger replaces the default JSON logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewLogger returns the JSON logger used by the service
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// New wires the pipeline from cfg. On error every resource opened so far is
// released.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger, Clock: o.clock}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logger := a.Logger.With("module", "app", "operation", "bootstrap")
	logger.InfoContext(ctx, "bootstrapping invoice pipeline",
		"storage_backend", cfg.StorageBackend,
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
	)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openObjects(ctx); err != nil {
		return nil, err
	}

	var roots []*x509.Certificate
	if cfg.SigningCertFile != "" {
		keys, err := signature.LoadKeyStore(cfg.SigningCertFile, cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		a.Signer = signature.NewSigner(keys)
		roots = append(roots, keys.Certificate())
	}
	if len(cfg.TrustedCertFiles) > 0 {
		trusted, err := signature.LoadCertificates(cfg.TrustedCertFiles...)
		if err != nil {
			return nil, err
		}
		roots = append(roots, trusted...)
	}

	var publisher audit.Publisher = audit.NewLoggingPublisher(a.Logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return kafka.Close() })
		publisher = kafka
	}
	a.Audit = audit.NewRecorder(a.Store.Audit,
		audit.WithClock(a.Clock),
		audit.WithPublisher(publisher),
		audit.WithLogger(a.Logger),
	)

	asm := assembler.New(a.Store.Orders, a.Store.Profiles, a.Store.Invoices,
		assembler.WithClock(a.Clock),
		assembler.WithConfig(assemblerConfig(cfg)),
	)
	a.Storage = storage.NewManager(storage.Dependencies{
		Assembler: asm,
		Invoices:  a.Store.Invoices,
		PDF:       pdf.NewRenderer(),
		XML:       xrechnung.NewRenderer(),
		Signer:    a.signer(),
		Objects:   a.Objects,
		Audit:     a.Audit,
		Clock:     a.Clock,
		Logger:    a.Logger,
		Config: storage.Config{
			Bucket:      cfg.Bucket,
			MaxFileSize: cfg.MaxFileSize,
			URLTTL:      cfg.URLTTL,
		},
	})

	if err := a.openDelivery(ctx); err != nil {
		return nil, err
	}

	gobd := []compliance.GoBDOption{}
	if len(roots) > 0 {
		gobd = append(gobd, compliance.WithSignatureVerifier(signature.NewVerifier(roots, signature.WithClock(a.Clock))))
	}
	if a.Signer != nil {
		gobd = append(gobd, compliance.WithSignatureRequiredFor(a.Delivery.IsGovernmentAgency))
	}
	registry := compliance.DefaultRegistry(gobd...)
	if len(cfg.KnownTaxRates) > 0 {
		registry.Register(compliance.NewTaxValidator(cfg.KnownTaxRates))
	}
	a.Compliance = compliance.NewEngine(compliance.Dependencies{
		Invoices:  a.Store.Invoices,
		Results:   a.Store.Validations,
		Artifacts: a.Storage,
		Registry:  registry,
		Audit:     a.Audit,
		Clock:     a.Clock,
		Logger:    a.Logger,
	})

	logger.InfoContext(ctx, "invoice pipeline ready", "outcome", "success",
		"signing", a.Signer != nil,
		"validators", len(registry.Types()),
	)
	return a, nil
}

// signer returns the XML signer as an interface value that is nil when
// signing is not configured
func (a *App) signer() storage.XMLSigner {
	if a.Signer == nil {
		return nil
	}
	return a.Signer
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.DatabaseURL != "" {
		store, err := postgres.NewStore(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return nil
	}

	store, dir := memory.NewStore()
	if cfg.SeedDemo {
		memory.SeedDemo(dir)
	}
	if cfg.FixturesPath != "" {
		if err := dir.LoadFixtures(cfg.FixturesPath); err != nil {
			return err
		}
	}
	a.Store = store
	return nil
}

func (a *App) openObjects(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.StorageFilesystem:
		files, err := storage.NewFileStore(cfg.FilesDir, cfg.PublicBaseURL, []byte(cfg.DownloadSecret), a.Clock)
		if err != nil {
			return err
		}
		a.Files = files
		a.Objects = files
	case config.StorageS3:
		s3, err := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		if err := s3.EnsureBucket(ctx, cfg.Bucket); err != nil {
			return err
		}
		a.Objects = s3
	default:
		a.Objects = storage.NewMemoryStore(a.Clock)
	}
	return nil
}

func (a *App) openDelivery(ctx context.Context) error {
	cfg := a.Config
	a.Transport = delivery.NewLogTransport(a.Logger)

	var mailer delivery.Mailer = a.Transport
	if cfg.SMTPHost != "" {
		smtp, err := delivery.NewSMTPMailer(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return err
		}
		mailer = smtp
	}

	var sms delivery.SMSSender = a.Transport
	if cfg.TwilioAccountSID != "" {
		twilio, err := delivery.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
		if err != nil {
			return err
		}
		sms = twilio
	}

	var pins delivery.PINStore = delivery.NewMemoryPINStore(a.Clock)
	if cfg.RedisURL != "" {
		client, err := delivery.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := ping(ctx, client); err != nil {
			return err
		}
		pins = delivery.NewRedisPINStore(client)
	}

	scheduler := delivery.NewScheduler(a.Clock)
	a.closers = append(a.closers, scheduler.Shutdown)

	routerCfg := delivery.DefaultConfig()
	if len(cfg.GovernmentSuffixes) > 0 {
		routerCfg.GovernmentSuffixes = cfg.GovernmentSuffixes
	}
	routerCfg.FollowUpDelay = cfg.FollowUpDelay
	routerCfg.PINTTL = cfg.URLTTL
	routerCfg.MaxPINAttempts = cfg.MaxPINAttempts

	a.Delivery = delivery.NewRouter(delivery.Dependencies{
		Storage:   a.Storage,
		Invoices:  a.Store.Invoices,
		Mailer:    mailer,
		SMS:       sms,
		PINs:      pins,
		Audit:     a.Audit,
		Scheduler: scheduler,
		Clock:     a.Clock,
		Logger:    a.Logger,
		Config:    routerCfg,
	})
	return nil
}

func ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func assemblerConfig(cfg config.Config) assembler.Config {
	out := assembler.DefaultConfig()
	if cfg.DefaultCurrency != "" {
		out.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)
	}
	out.DefaultTaxRate = cfg.DefaultTaxRate
	if cfg.PaymentTerms != "" {
		out.PaymentTerms = cfg.PaymentTerms
	}
	if cfg.Disclaimer != "" {
		out.Disclaimer = cfg.Disclaimer
	}
	return out
}

// Close stops pending follow-ups and releases connections, newest first
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
