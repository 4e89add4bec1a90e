package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-cost/internal/config"
	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/handler"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/bitfantasy/nimo-cost/internal/cost/service"
	"github.com/bitfantasy/nimo-cost/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-cost service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// AutoMigrate 成本模块表
	if err := db.AutoMigrate(
		&entity.BudgetNode{},
		&entity.BudgetStructure{},
		&entity.BudgetElement{},
		&entity.Bill{},
		&entity.BillItem{},
		&entity.BillPayment{},
		&entity.AllocationIssue{},
		&entity.ProjectSummary{},
	); err != nil {
		zapLogger.Warn("AutoMigrate cost tables warning", zap.Error(err))
	}

	// 手动补充索引与约束（AutoMigrate不覆盖的部分）
	migrationSQL := []string{
		// 结构重名是脏数据来源，加唯一索引从写入端堵住
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_cost_structures_project_name ON cost_budget_structures(project_id, name)",
		"CREATE INDEX IF NOT EXISTS idx_cost_nodes_project_level ON cost_budget_nodes(project_id, level)",
		"CREATE INDEX IF NOT EXISTS idx_cost_nodes_parent ON cost_budget_nodes(parent_id)",
		"CREATE INDEX IF NOT EXISTS idx_cost_bill_items_node ON cost_bill_items(cost_control_item_id)",
		"CREATE INDEX IF NOT EXISTS idx_cost_payments_bill ON cost_bill_payments(bill_id)",
		"CREATE INDEX IF NOT EXISTS idx_cost_issues_unresolved ON cost_allocation_issues(project_id) WHERE resolved = false",
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning (may already exist)", zap.String("sql", sql), zap.Error(err))
		}
	}
	zapLogger.Info("Database migration completed")

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services := service.NewServices(db, repos, rdb, zapLogger)
	handlers := handler.NewHandlers(services, repos)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 需要认证的接口
		cost := v1.Group("/cost")
		cost.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 账单
			bills := cost.Group("/bills")
			{
				bills.GET("", h.Bill.List)
				bills.POST("", h.Bill.Create)
				bills.GET("/:id", h.Bill.Get)
				bills.DELETE("/:id", h.Bill.Delete)
				bills.POST("/:id/cancel", h.Bill.Cancel)
				bills.POST("/:id/payments", h.Bill.RecordPayment)
			}

			// 成本控制节点
			nodes := cost.Group("/nodes")
			{
				nodes.POST("", h.Budget.Create)
				nodes.GET("/:id", h.Budget.Get)
				nodes.DELETE("/:id", h.Budget.Delete)
				nodes.POST("/:id/classify", h.Budget.Classify)
			}

			// 项目维度
			projects := cost.Group("/projects")
			{
				projects.GET("/:project_id/tree", h.Budget.Tree)
				projects.POST("/:project_id/recompute", h.Budget.Recompute)
				projects.POST("/:project_id/fix-orphans", h.Budget.FixOrphans)
				projects.GET("/:project_id/summary", h.Summary.Get)
				projects.POST("/:project_id/summary/refresh", h.Summary.Refresh)
				projects.GET("/:project_id/projection", h.Summary.Projection)
				projects.POST("/:project_id/projection/expand", h.Summary.SetExpanded)
				projects.GET("/:project_id/projection/export", h.Summary.Export)
			}

			// 汇总运维
			cost.POST("/summaries/refresh", h.Summary.RefreshAll)

			// 分摊异常
			issues := cost.Group("/issues")
			{
				issues.GET("", h.Budget.ListIssues)
				issues.POST("/:id/resolve", h.Budget.ResolveIssue)
			}
		}
	}
}
