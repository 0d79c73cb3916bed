package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	https_server "DeskPilot/api/http"
	"DeskPilot/internal/config"
	"DeskPilot/internal/initial"
	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"
	"DeskPilot/internal/modules/assistant/infrastructure/llm"
	"DeskPilot/internal/modules/assistant/infrastructure/mcpserver"
	"DeskPilot/internal/modules/assistant/infrastructure/mq"
	"DeskPilot/internal/modules/assistant/infrastructure/mq/kafka"
	"DeskPilot/internal/modules/assistant/infrastructure/persistence"
	"DeskPilot/internal/modules/assistant/infrastructure/remote"
	assistantEvent "DeskPilot/internal/modules/assistant/interface/event"
	assistantHandler "DeskPilot/internal/modules/assistant/interface/http"
	"DeskPilot/internal/modules/assistant/interface/scheduler"
	wsHandler "DeskPilot/internal/modules/assistant/interface/websocket"
	"DeskPilot/pkg/redis"
	"DeskPilot/pkg/ws"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// collaborators 业务接口未配置时全部为 nil 接口
type collaborators struct {
	customers    collaborator.CustomerDirectory
	appointments collaborator.AppointmentCalendar
	archive      collaborator.ArchiveSearch
	remote       collaborator.RemoteNotifier
}

func main() {
	// 1. 加载配置
	if err := config.LoadConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
	conf := config.GetConfig()

	zlog.Init(zlog.Options{
		LogPath:    conf.LogConfig.LogPath,
		Level:      conf.LogConfig.Level,
		MaxSizeMB:  conf.LogConfig.MaxSizeMB,
		MaxBackups: conf.LogConfig.MaxBackups,
		MaxAgeDays: conf.LogConfig.MaxAgeDays,
	})
	defer zlog.Sync()

	// 2. 存储：结构化存储 + 扁平 KV 兜底
	db, err := initial.NewGormDB(conf)
	if err != nil {
		zlog.Warn("structured store unavailable at startup, using flat kv store only", zap.Error(err))
		db = nil
	}
	flat := newFlatStore(conf)

	ladder := persistence.NewLadder()
	if db == nil {
		ladder.Degrade("startup", err)
	}
	memoryRepo := stateRepo[memory.ShortTermMemory](db, flat, ladder, repository.TableMemoryState, "memory")
	awarenessRepo := stateRepo[awareness.State](db, flat, ladder, repository.TableAwarenessState, "awareness")
	settingsRepo := stateRepo[notification.Settings](db, flat, ladder, repository.TableNotificationSettings, "notification-settings")
	var notificationRepo repository.NotificationRepository = persistence.NewKVNotificationRepository(flat)
	if db != nil {
		notificationRepo = persistence.NewFallbackNotificationRepository(persistence.NewNotificationRepository(db), notificationRepo, ladder)
	}

	// 3. 领域服务
	bus := eventbus.New()
	collab := newCollaborators(conf)

	memorySvc := service.NewContextMemoryService(memoryRepo)
	awarenessSvc := service.NewAwarenessService(awarenessRepo)
	notificationSvc := service.NewNotificationService(notificationRepo, settingsRepo, collab.remote, bus, service.NotificationOptions{
		MaxStored:       conf.NotificationConfig.MaxStored,
		FlushDelay:      time.Duration(conf.NotificationConfig.FlushDelayMs) * time.Millisecond,
		ReadCacheTTL:    time.Duration(conf.NotificationConfig.ReadCacheTTLMs) * time.Millisecond,
		EnforceSettings: conf.NotificationConfig.EnforceSettings,
	})
	notificationSvc.BindEventBus(bus)

	var fallback service.LLMFallback
	chatModel, meta, err := llm.NewChatModelFromConfig(context.Background(), conf)
	switch {
	case err == nil:
		fallback = llm.NewFallbackClient(chatModel)
		zlog.Info("llm fallback enabled", zap.String("provider", meta.Provider), zap.String("model", meta.Model))
	case errors.Is(err, llm.ErrNotConfigured):
		zlog.Info("llm fallback not configured, static replies only")
	default:
		zlog.Warn("llm fallback init failed, static replies only", zap.Error(err))
	}

	kernel := service.NewKernelService(service.KernelDeps{
		Router:        service.NewIntentRouter(collab.customers, collab.appointments, collab.archive),
		Memory:        memorySvc,
		Awareness:     awarenessSvc,
		Notifications: notificationSvc,
		Customers:     collab.customers,
		Calendar:      collab.appointments,
		LLM:           fallback,
		Bus:           bus,
	})
	defer kernel.Close()

	// 4. 推送：websocket hub 订阅总线
	hub := ws.NewHub()
	unbindPush := assistantEvent.BindPushBridge(bus, hub)
	defer unbindPush()
	sink := assistantEvent.ReplySink(bus)

	// 5. Kafka：领域事件入站，已接收通知出站
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	closeKafka := startKafka(ctx, conf, bus, notificationSvc)

	// 6. 日程提醒
	var reminders *scheduler.ReminderManager
	if collab.appointments != nil {
		reminders = scheduler.NewReminderManager(conf.NotificationConfig.ReminderCron,
			time.Duration(conf.NotificationConfig.ReminderLookahead)*time.Minute, collab.appointments, notificationSvc)
		if err := reminders.Start(); err != nil {
			zlog.Warn("reminder scheduler disabled", zap.Error(err))
			reminders = nil
		}
	}

	// 7. HTTP 路由
	handlers := https_server.Handlers{
		Assistant:    assistantHandler.NewAssistantHandler(kernel, memorySvc, awarenessSvc, sink),
		Notification: assistantHandler.NewNotificationHandler(notificationSvc),
		Ws:           wsHandler.NewWsHandler(hub, bus, kernel, sink),
	}
	if conf.MCPConfig.Enabled {
		handlers.MCP = mcpserver.NewHTTPHandler(mcpserver.NewServer(conf.MCPConfig.Name, conf.MCPConfig.Version, notificationSvc))
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler: https_server.NewRouter(conf, handlers),
	}

	go func() {
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("服务器启动失败: " + err.Error())
		}
	}()

	// 8. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	if reminders != nil {
		reminders.Stop()
	}
	cancel()
	closeKafka()
	if err := notificationSvc.Flush(shutdownCtx); err != nil {
		zlog.Warn("notification flush on shutdown", zap.Error(err))
	}
	closeDB(db)
	_ = redis.Close()
	zlog.Info("服务器已关闭")
}

func newFlatStore(conf *config.Config) kv.Store {
	err := initial.InitRedis(context.Background(), conf)
	if err == nil {
		return kv.NewRedisStore(conf.MainConfig.AppName)
	}
	if !errors.Is(err, initial.ErrRedisDisabled) {
		zlog.Warn("redis unavailable, flat store falls back to local files", zap.Error(err))
	}
	store, err := kv.NewFileStore(conf.FlatStoreConfig.Dir)
	if err != nil {
		zlog.Fatal("flat kv store init failed", zap.Error(err))
	}
	return store
}

func stateRepo[T any](db *gorm.DB, flat kv.Store, ladder *persistence.Ladder, table, prefix string) repository.StateRepository[T] {
	secondary := persistence.NewKVStateRepository[T](flat, prefix)
	if db == nil {
		return secondary
	}
	return persistence.NewFallbackStateRepository[T](persistence.NewGormStateRepository[T](db, table), secondary, ladder)
}

func newCollaborators(conf *config.Config) collaborators {
	if conf.DomainAPIConfig.BaseURL == "" {
		zlog.Warn("domain api not configured, search and scheduling report lookup failures")
		return collaborators{}
	}
	c := remote.NewClient(conf.DomainAPIConfig.BaseURL, conf.DomainAPIConfig.Token,
		time.Duration(conf.DomainAPIConfig.TimeoutSeconds)*time.Second)
	return collaborators{customers: c, appointments: c, archive: c, remote: c}
}

// startKafka 未配置 broker 时什么也不做；返回关闭函数
func startKafka(ctx context.Context, conf *config.Config, bus *eventbus.Bus, notifications service.NotificationService) func() {
	kc := conf.KafkaConfig
	if len(kc.Brokers) == 0 {
		return func() {}
	}
	kcfg := kafka.Config{Brokers: kc.Brokers, ClientID: kc.ClientID}
	if err := kafka.EnsureTopics(kcfg,
		kafka.TopicSpec{Name: kc.EventTopic, Partitions: 3, Retention: 72 * time.Hour},
		kafka.TopicSpec{Name: kc.FanoutTopic, Partitions: 3, Retention: 24 * time.Hour},
	); err != nil {
		zlog.Warn("kafka ensure topics", zap.Error(err))
	}

	var closers []func()
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Config:  kcfg,
		GroupID: kc.ConsumerGroupID,
		Topics:  []string{kc.EventTopic},
	})
	if err != nil {
		zlog.Warn("kafka consumer disabled", zap.Error(err))
	} else {
		go func() {
			if err := consumer.Run(ctx, assistantEvent.NewDomainEventHandler(notifications)); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
		closers = append(closers, func() { _ = consumer.Close() })
	}

	publisher, err := kafka.NewPublisher(kcfg)
	if err != nil {
		zlog.Warn("kafka fanout disabled", zap.Error(err))
	} else {
		fanout := mq.NewNotificationFanout(publisher, kc.FanoutTopic)
		unsubscribe := bus.Notifications.Subscribe(fanout)
		closers = append(closers, unsubscribe, func() { _ = publisher.Close() })
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
