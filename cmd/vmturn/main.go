package main

// CLI entrypoint: vmturn <imageFile> <sessionName> [<command>]

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/manuelinfosec/vmturn/internal"
	"github.com/manuelinfosec/vmturn/internal/config"
	"github.com/manuelinfosec/vmturn/internal/engine"
	"github.com/manuelinfosec/vmturn/internal/engine/luavm"
	"github.com/manuelinfosec/vmturn/internal/machine"
	"github.com/manuelinfosec/vmturn/internal/s3"
	"github.com/manuelinfosec/vmturn/internal/storage"
)

const inProgressMessage = "Please specify a command or start a new session. This one is already in progress."

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr, func() engine.Engine { return luavm.New() })
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newEngine func() engine.Engine) int {
	logrus.SetOutput(stderr)

	if len(args) < 3 || len(args) > 4 {
		fmt.Fprintf(stderr, "usage: %s <imageFile> <sessionName> [<command>]\n", filepath.Base(args[0]))
		return 2
	}

	req := machine.Request{Session: args[2]}
	if len(args) == 4 {
		req.Command = args[3]
		req.HasCommand = true
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		logrus.Errorf("fatal error: %v", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		logrus.Errorf("fatal error: config validation failed: %v", err)
		return 1
	}
	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logrus.SetLevel(level)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logrus.Errorf("fatal error: %v", err)
		return 1
	}
	defer closeStore()

	logrus.Infof("Session store initialized (driver=%s)", cfg.Store.Driver)

	app := &machine.AppContext{
		Store:     store,
		Sink:      machine.NewJSONSink(stdout),
		MaxEvents: cfg.Engine.MaxEvents,
	}

	// Refused turns leave the store untouched, lock table included.
	if !req.HasCommand {
		if _, err := machine.New(ctx, app, req); errors.Is(err, machine.ErrInvalidRequest) {
			fmt.Fprintln(stderr, inProgressMessage)
			return 1
		}
	}

	if locker, ok := store.(storage.Locker); ok {
		key, owner := "session:"+req.Session, uuid.NewString()
		timeout := time.Duration(cfg.Store.LockTimeoutMs) * time.Millisecond
		if err := locker.AcquireLock(ctx, key, owner, timeout); err != nil {
			logrus.Errorf("fatal error: %v", err)
			return 1
		}
		defer func() {
			if err := locker.ReleaseLock(context.Background(), key, owner); err != nil {
				logrus.Warnf("Failed to release lock %s (owner %s): %v", key, owner, err)
			}
		}()
	}

	image, digest, err := internal.ReadImage(ctx, args[1], func(ctx context.Context, bucket string) (*s3.S3Client, error) {
		return s3.NewS3Client(ctx, bucket, cfg.Store.S3.Region, cfg.Store.S3.Anonymous)
	})
	if err != nil {
		logrus.Errorf("fatal error: %v", err)
		return 1
	}
	req.Image = image

	logrus.Infof("Image %s loaded (sha256 %s)", args[1], digest)

	ctrl, err := machine.New(ctx, app, req)
	if errors.Is(err, machine.ErrInvalidRequest) {
		fmt.Fprintln(stderr, inProgressMessage)
		return 1
	}
	if err != nil {
		logrus.Errorf("fatal error: %v", err)
		return 1
	}

	if err := ctrl.Run(ctx, newEngine()); err != nil {
		logrus.Errorf("fatal error: %v", err)
		return 1
	}

	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := storage.InitDB(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLiteStore(db, luavm.Decoder), func() { db.Close() }, nil

	case config.DriverS3:
		client, err := s3.NewS3Client(ctx, cfg.Store.S3.Bucket, cfg.Store.S3.Region, false)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewS3Store(client, cfg.Store.S3.Prefix, luavm.Decoder), func() {}, nil

	default:
		st, err := storage.NewFileStore(cfg.Store.Dir, luavm.Decoder)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}
