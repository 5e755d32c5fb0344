package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitcodr/waplane/config"
	"github.com/bitcodr/waplane/internal/app"
	"github.com/bitcodr/waplane/internal/convstate"
	"github.com/bitcodr/waplane/internal/department"
	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/internal/ledger"
	"github.com/bitcodr/waplane/internal/reconciler"
	"github.com/bitcodr/waplane/internal/router"
	"github.com/bitcodr/waplane/internal/webapi"
	"github.com/bitcodr/waplane/internal/webserver"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	confFile = flag.String("c", "", "config file")
	initDb   = flag.Bool("initdb", false, "drop and initialize database")
)

var (
	// set via -ldflags at build time
	BuildVersion string
	ReleaseDate  string
)

func printVersion() {
	fmt.Printf("waplane %s (build %s)\n", BuildVersion, ReleaseDate)
}

func main() {
	flag.Parse()
	if *h {
		flag.Usage()
		return
	}
	if *showVer {
		printVersion()
		return
	}

	cfg := config.LoadConfig(*confFile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.DropAll()
		application.InitDb()
		return
	}

	db := application.DB()
	led := ledger.New(db)
	states := convstate.New(db, application.Bus())
	if err := convstate.NewAuditRecorder(db).Subscribe(application.Bus()); err != nil {
		zap.L().Error("audit recorder subscribe failed", zap.Error(err))
	}
	departments := department.NewResolver(db, department.DefaultCacheTTL)

	relay := router.NewRelayClient(cfg.Relay)
	cloud := router.NewCloudClient(cfg.Cloud)
	rtr := router.New(db, led, states, departments, relay, cloud, cfg.Cloud.BusinessPhone)
	rec := reconciler.New(db, led, states)

	application.RegisterTask(domain.TaskHandoverReconcile, func(ctx context.Context, sched *domain.BizScheduler) (string, error) {
		opts := reconciler.Options{
			TimeoutMinutes: int(application.GetSettingsInt64Value("handover", "TimeoutMinutes")),
		}
		summary, err := rec.Sweep(ctx, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("checked %d released %d skipped %d",
			summary.TotalChecked, summary.Released, summary.Skipped), nil
	})

	application.RegisterTask(domain.TaskPurgeMessages, func(ctx context.Context, sched *domain.BizScheduler) (string, error) {
		days := application.GetSettingsInt64Value("ledger", "RetentionDays")
		if days <= 0 {
			days = 365
		}
		cutoff := time.Now().AddDate(0, 0, -int(days))
		n, err := led.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("purged %d messages", n), nil
	})

	ws := webserver.Init(cfg)
	webapi.Init(&webapi.Deps{
		App:         application,
		Ledger:      led,
		States:      states,
		Departments: departments,
		Router:      rtr,
		Reconciler:  rec,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.StartBackgroundJobs(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.Echo().Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("waplane stopped", zap.Error(err))
		os.Exit(1)
	}
}
