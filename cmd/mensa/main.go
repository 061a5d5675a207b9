package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mensa-erp/mensa-erp/internal/app"
	"github.com/mensa-erp/mensa-erp/internal/auth"
	"github.com/mensa-erp/mensa-erp/internal/documents"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/categories"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/products"
	"github.com/mensa-erp/mensa-erp/internal/masterdata/warehouses"
	"github.com/mensa-erp/mensa-erp/internal/observability"
	"github.com/mensa-erp/mensa-erp/internal/platform/cache"
	"github.com/mensa-erp/mensa-erp/internal/platform/db"
	"github.com/mensa-erp/mensa-erp/internal/recon"
	reconhttp "github.com/mensa-erp/mensa-erp/internal/recon/http"
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

// catalogBridge resolves master data lookups for count sheet generation.
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

// documentBridge creates and posts adjustment documents in one step.
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	authService := auth.NewService(auth.NewRepository(pool))
	authMiddleware := auth.NewMiddleware(logger, authService)

	warehouseService := warehouses.NewService(warehouses.NewRepository(pool))
	categoryService := categories.NewService(categories.NewRepository(pool))
	productService := products.NewService(products.NewRepository(pool))

	stockService := stock.NewService(stock.NewRepository(pool), auditLogger, idempotencyStore, stock.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})

	documentService := documents.NewService(documents.NewRepository(pool), stockService, auditLogger, approvalRecorder)

	catalog := catalogBridge{warehouses: warehouseService, products: productService}
	sheets := recon.NewSheetGenerator(balanceBridge{stock: stockService}, catalog)
	reconRepo := recon.NewRepository(pool)
	reconService := recon.NewService(
		reconRepo,
		sheets,
		catalog,
		documentBridge{documents: documentService},
		auditLogger,
		approvalRecorder,
		idempotencyStore,
	)
	reportCache := recon.NewReportCache(redisClient, cfg.ReportCacheTTL)
	reportProvider := recon.NewReportProvider(reconService, reconRepo, reportCache)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthMiddleware:   authMiddleware,
		InventoryHandler: reconhttp.NewHandler(logger, reconService, reportProvider, approvalRecorder, auditLogger, jobsClient),
		StockHandler:     stock.NewHandler(logger, stockService),
		DocumentsHandler: documents.NewHandler(logger, documentService),
		WarehouseHandler: warehouses.NewHandler(logger, warehouseService),
		CategoryHandler:  categories.NewHandler(logger, categoryService),
		ProductHandler:   products.NewHandler(logger, productService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Pool:             pool,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
