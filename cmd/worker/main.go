package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/mensa-erp/mensa-erp/internal/app"
	"github.com/mensa-erp/mensa-erp/internal/documents"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/products"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/warehouses"
	"github.com/mensa-erp/mensa-erp/internal/platform/cache"
	"github.com/mensa-erp/mensa-erp/internal/platform/db"
	"github.com/mensa-erp/mensa-erp/internal/recon"
	"github.com/mensa-erp/mensa-erp/internal/shared"
	"github.com/mensa-erp/mensa-erp/internal/stock"
	"github.com/mensa-erp/mensa-erp/jobs"
)

// balanceBridge adapts the stock service to the reconciliation balance port.
type balanceBridge struct {
	stock *stock.Service
}

func (b balanceBridge) ListBalances(ctx context.Context, warehouseID int64) ([]recon.StockBalance, error) {
	balances, err := b.stock.ListBalances(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	out := make([]recon.StockBalance, 0, len(balances))
	for _, bal := range balances {
		out = append(out, recon.StockBalance{
			ProductID: bal.ProductID,
			Qty:       bal.Qty,
			AvgCost:   bal.AvgCost,
		})
	}
	return out, nil
}

type catalogBridge struct {
	warehouses *warehouses.Service
	products   *products.Service
}

func (c catalogBridge) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	return c.warehouses.Exists(ctx, warehouseID)
}

func (c catalogBridge) ProductIDsByCategories(ctx context.Context, categoryIDs []int64) ([]int64, error) {
	return c.products.IDsByCategories(ctx, categoryIDs)
}

type documentBridge struct {
	documents *documents.Service
}

func (d documentBridge) CreateDocument(ctx context.Context, input recon.DocumentInput) (recon.AdjustmentDocument, error) {
	lines := make([]documents.LineInput, 0, len(input.Lines))
	for _, line := range input.Lines {
		lines = append(lines, documents.LineInput{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			Price:     line.Price,
		})
	}
	doc, err := d.documents.Post(ctx, documents.CreateInput{
		Type:        documents.Type(input.Type),
		WarehouseID: input.WarehouseID,
		Note:        input.Note,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
		ActorID:     input.ActorID,
		Lines:       lines,
	})
	if err != nil {
		return recon.AdjustmentDocument{}, err
	}
	return recon.AdjustmentDocument{
		ID:     doc.ID,
		Number: doc.Number,
		Type:   recon.DocumentType(doc.Type),
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	warehouseService := warehouses.NewService(warehouses.NewRepository(pool))
	productService := products.NewService(products.NewRepository(pool))

	stockService := stock.NewService(stock.NewRepository(pool), auditLogger, idempotencyStore, stock.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	documentService := documents.NewService(documents.NewRepository(pool), stockService, auditLogger, approvalRecorder)

	catalog := catalogBridge{warehouses: warehouseService, products: productService}
	reconRepo := recon.NewRepository(pool)
	reconService := recon.NewService(
		reconRepo,
		recon.NewSheetGenerator(balanceBridge{stock: stockService}, catalog),
		catalog,
		documentBridge{documents: documentService},
		auditLogger,
		approvalRecorder,
		idempotencyStore,
	)
	reportCache := recon.NewReportCache(redisClient, cfg.ReportCacheTTL)
	reportProvider := recon.NewReportProvider(reconService, reconRepo, reportCache)

	warmupJob := recon.NewWarmupJob(reportProvider, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, cfg.IdempotencyRetention, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
