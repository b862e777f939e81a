package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alwedo/jobmart/config"
	"github.com/alwedo/jobmart/geo"
	"github.com/alwedo/jobmart/pipeline"
	"github.com/alwedo/jobmart/scrape"
	"github.com/alwedo/jobmart/scrape/browser"
	"github.com/alwedo/jobmart/scrape/cvlibrary"
	"github.com/alwedo/jobmart/scrape/indeed"
	"github.com/alwedo/jobmart/scrape/reed"
	"github.com/alwedo/jobmart/scrape/retryhttp"
	"github.com/alwedo/jobmart/scrape/totaljobs"
	"github.com/alwedo/jobmart/server"
	"github.com/alwedo/jobmart/staging"
	"github.com/alwedo/jobmart/warehouse"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback"
)

const (
	configPath = "config/config.yaml"
	schemaPath = "config/schema.yaml"
)

func main() {
	var (
		ctx    = context.Background()
		svrErr = make(chan error, 1)
		c      = make(chan os.Signal, 1)
	)

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on the environment")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("unable to load configuration: %v", err)
	}
	schema, err := config.LoadSchema(schemaPath)
	if err != nil {
		log.Fatalf("unable to load warehouse schema: %v", err)
	}

	logger, logCloser := initLogger()
	defer logCloser.Close()

	pool, poolCloser := initDB(ctx, cfg.Warehouse)
	defer poolCloser()
	store := warehouse.New(pool, schema, logger)

	bucket, err := staging.New(ctx, cfg.Staging.Bucket, cfg.Staging.Region)
	if err != nil {
		log.Fatalf("unable to initialize staging bucket: %v", err)
	}

	sources, sourcesCloser, err := initSources(cfg, logger)
	if err != nil {
		log.Fatalf("unable to initialize scrapers: %v", err)
	}
	defer sourcesCloser()

	pipe := pipeline.New(logger, store, bucket, geo.New(logger), cfg.WebsiteURLs(), sources...)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("unable to initialize scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.ScheduleEvery.Std()),
		gocron.NewTask(func() {
			if err := pipe.Run(ctx); err != nil {
				logger.Error("scheduled run failed", slog.String("error", err.Error()))
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.Fatalf("unable to schedule pipeline runs: %v", err)
	}
	scheduler.Start()
	defer scheduler.Shutdown() //nolint: errcheck

	svr := server.New(logger, pipe, cfg.ListenAddr)
	defer svr.Shutdown(ctx) //nolint: errcheck

	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Println("starting server on " + svr.Addr)
		if err := svr.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Println(err)
			} else {
				log.Println(err)
				svrErr <- err
			}
		}
	}()

	select {
	case <-svrErr:
		log.Println("\nserver error, shutting down...")
	case <-c:
		log.Println("\nshutting down...")
	}
}

func initLogger() (*slog.Logger, io.Closer) {
	out, err := os.OpenFile("jobmart.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("unable to open log file: %v", err)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), out
}

func initDB(ctx context.Context, w config.Warehouse) (*pgxpool.Pool, func()) {
	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := warehouse.EnsureDatabase(dbCtx, w.AdminConnString(), w.Database); err != nil {
		log.Fatalf("unable to ensure warehouse database: %v", err)
	}

	conn, err := pgxpool.New(ctx, w.ConnString())
	if err != nil {
		log.Fatalf("unable to initialize db connection: %v", err)
	}
	if err := conn.Ping(dbCtx); err != nil {
		log.Fatalf("unable to ping database: %v", err)
	}

	return conn, conn.Close
}

// initSources builds one scraper per configured site. The browser session is
// started lazily, only when a site actually needs it.
func initSources(cfg *config.Config, logger *slog.Logger) ([]pipeline.Source, func(), error) {
	var (
		sources []pipeline.Source
		session *browser.Session
		closer  = func() {}
	)

	browserSession := func() (*browser.Session, error) {
		if session != nil {
			return session, nil
		}
		s, c, err := browser.NewSession(logger)
		if err != nil {
			return nil, err
		}
		session, closer = s, c
		return session, nil
	}

	for _, site := range cfg.Sites {
		var (
			scr scrape.Scraper
			err error
		)
		switch site.Driver {
		case "http":
			switch site.Name {
			case reed.Name:
				scr = reed.New(logger, retryhttp.WithRandomUserAgent())
			case totaljobs.Name:
				scr = totaljobs.New(logger, retryhttp.WithRandomUserAgent())
			default:
				err = fmt.Errorf("no http scraper implemented for site %q", site.Name)
			}
		case "browser":
			var s *browser.Session
			if s, err = browserSession(); err == nil {
				switch site.Name {
				case indeed.Name:
					scr = indeed.New(logger, s)
				case cvlibrary.Name:
					scr = cvlibrary.New(logger, s)
				default:
					err = fmt.Errorf("no browser scraper implemented for site %q", site.Name)
				}
			}
		default:
			err = fmt.Errorf("unknown driver %q for site %q", site.Driver, site.Name)
		}
		if err != nil {
			closer()
			return nil, nil, err
		}
		sources = append(sources, pipeline.Source{Scraper: scr, Terms: site.Terms})
	}

	return sources, closer, nil
}
