// Listmirror mirrors a record set held under a realtime store path pair
// (an id-index path plus a data path) into a local observable list, and
// forwards local mutations back to the store.
//
// Usage:
//
//	listmirror watch [--config <path>]          # print the change feed until interrupted
//	listmirror add [--config ...] field=value…  # add a record (id minted unless given)
//	listmirror remove [--config ...] <id>       # remove a record by id
//	listmirror clear [--config ...] --yes       # remove every record
//	listmirror version                          # print version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/mlund/listmirror/internal/config"
	"github.com/mlund/listmirror/internal/telemetry"
	"github.com/mlund/listmirror/mirror"
	"github.com/mlund/listmirror/model"
	"github.com/mlund/listmirror/sqlitestore"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "watch":
		return runWatch(os.Args[2:])
	case "add":
		return runAdd(os.Args[2:])
	case "remove":
		return runRemove(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "version":
		fmt.Println("listmirror", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'listmirror' for usage", cmd)
	}
}

// printUsage shows help.
func printUsage() error {
	fmt.Fprintln(os.Stderr, "listmirror — mirror a realtime store path into a local observable list")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  listmirror watch [--config <path>]           Print the change feed until interrupted")
	fmt.Fprintln(os.Stderr, "  listmirror add [--config ...] field=value…   Add a record (id minted unless given)")
	fmt.Fprintln(os.Stderr, "  listmirror remove [--config ...] <id>        Remove a record by id")
	fmt.Fprintln(os.Stderr, "  listmirror clear [--config ...] --yes        Remove every record")
	fmt.Fprintln(os.Stderr, "  listmirror version                           Print version")
	os.Exit(1)
	return nil // unreachable
}

// session bundles everything a subcommand needs after common setup.
type session struct {
	cfg   *config.Config
	store *sqlitestore.Store
	list  *mirror.List[model.MapRecord]
	log   *slog.Logger

	shutdown func()
}

// openSession loads config, wires telemetry if configured, opens the store,
// and builds the mirror list.
func openSession(ctx context.Context, cfgPath string, verbose bool) (*session, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	otelShutdown := telemetry.ShutdownFunc(func(context.Context) error { return nil })
	if cfg.Telemetry != nil {
		otelShutdown, err = telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up telemetry: %w", err)
		}
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = sqlitestore.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	list, err := mirror.New[model.MapRecord](ctx, st, model.MapCodec{}, mirror.Options{
		DataPath:  cfg.DataPath,
		IndexPath: cfg.IDIndexPath,
		Logger:    logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building mirror list: %w", err)
	}

	return &session{
		cfg:   cfg,
		store: st,
		list:  list,
		log:   logger,
		shutdown: func() {
			_ = list.Close()
			_ = st.Close()
			_ = otelShutdown(context.Background())
		},
	}, nil
}

// commonFlags declares the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	cfgPath = fs.String("config", "", "path to config file (default ~/.config/listmirror/config.yaml)")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// --- Subcommands -------------------------------------------------------------

// runWatch mirrors the configured paths and prints every change until
// SIGINT/SIGTERM.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := openSession(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer s.shutdown()

	for _, rec := range s.list.Items() {
		fmt.Printf("have  %s  %v\n", rec.RecordID(), model.Fields(rec))
	}
	s.list.Watch(func(ch mirror.Change[model.MapRecord]) {
		switch ch.Op {
		case mirror.OpAdd:
			fmt.Printf("add   %s  %v\n", ch.ID, model.Fields(ch.Record))
		case mirror.OpReplace:
			fmt.Printf("chg   %s  %v\n", ch.ID, model.Fields(ch.Record))
		case mirror.OpRemove:
			fmt.Printf("del   %s\n", ch.ID)
		case mirror.OpReset:
			fmt.Println("reset")
		}
	})

	s.log.Info("watching", "data_path", s.cfg.DataPath, "id_index_path", s.cfg.IDIndexPath)
	<-ctx.Done()
	s.log.Info("shutting down")
	return nil
}

// runAdd adds one record built from field=value arguments.
func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("add requires at least one field=value argument")
	}

	rec := model.MapRecord{}
	for _, arg := range fs.Args() {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return fmt.Errorf("argument %q is not field=value", arg)
		}
		rec[field] = value
	}
	if rec.RecordID() == "" {
		rec["id"] = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := openSession(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer s.shutdown()

	if err := s.list.Add(ctx, rec); err != nil {
		return err
	}
	fmt.Println(rec.RecordID())
	return nil
}

// runRemove removes one record by id.
func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("remove requires exactly one id argument")
	}
	id := fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := openSession(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer s.shutdown()

	return s.list.Remove(ctx, id)
}

// runClear removes every record. Refuses to run without --yes.
func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	yes := fs.Bool("yes", false, "confirm mass deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := openSession(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer s.shutdown()

	n := s.list.Len()
	if err := s.list.Clear(ctx, *yes); err != nil {
		return err
	}
	s.log.Info("cleared", "records", n)
	return nil
}
