package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/analyze"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/blob"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/config"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/domain"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/events"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/httpauth"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource/gmailsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource/graphsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/mailsource/imapsource"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/store"
	mailsync "github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/sync"
	"github.com/gpopzrawproduction-afk/MbarieInsightSuite-sub002/internal/token"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("Loading configuration failed")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		logrus.WithError(err).Fatal("Creating data root failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		logrus.WithError(err).Fatal("Opening database failed")
	}
	defer st.Close()

	blobs, err := blob.NewStore(cfg.BlobRoot())
	if err != nil {
		logrus.WithError(err).Fatal("Opening blob store failed")
	}

	registry := token.NewRegistry(
		token.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, st, nil),
		token.NewMicrosoftProvider(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, st, nil),
	)

	var analyzer analyze.Analyzer
	if cfg.AnalyzerURL != "" {
		analyzer = analyze.NewClient(cfg.AnalyzerURL)
	}

	passwords, err := config.KeyringPasswordLookup()
	if err != nil {
		logrus.WithError(err).Warn("System keyring unavailable, IMAP accounts must carry stored passwords")
		passwords = nil
	}

	folders := mailsync.NewFolderSynchronizer(st, blobs, analyzer)
	orchestrator := mailsync.NewOrchestrator(
		st,
		folders,
		[]mailsource.Source{imapsource.New(), gmailsource.New(), graphsource.New()},
		registry,
		passwords,
		cfg.InitialSyncDays,
	)
	manager := mailsync.NewManager(orchestrator)
	coordinator := mailsync.NewCoordinator(st, orchestrator)

	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			logrus.WithError(err).Warn("NATS unreachable, events stay queued in the outbox")
		} else {
			defer publisher.Close()
			if err := publisher.EnsureStream(ctx); err != nil {
				logrus.WithError(err).Warn("Ensuring event stream failed")
			}
			go events.NewDispatcher(st, publisher).Run(ctx)
		}
	}

	router := buildRouter(ctx, cfg, st, manager, coordinator)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	manager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown incomplete")
	}
}

type createAccountRequest struct {
	EmailAddress string              `json:"email_address" binding:"required,email"`
	Provider     domain.ProviderKind `json:"provider" binding:"required"`

	Host   string `json:"host"`
	Port   int    `json:"port"`
	UseSSL bool   `json:"use_ssl"`

	Password string `json:"password"`

	IncludeSent    bool `json:"include_sent"`
	IncludeDrafts  bool `json:"include_drafts"`
	IncludeArchive bool `json:"include_archive"`

	SyncAttachments     bool  `json:"sync_attachments"`
	MaxAttachmentSizeMB int64 `json:"max_attachment_size_mb"`
}

type startSyncRequest struct {
	ResumeFrom          *time.Time `json:"resume_from"`
	AttachmentsOverride *bool      `json:"attachments_override"`
}

type historicalSyncRequest struct {
	HistoryMonths int `json:"history_months"`
}

func buildRouter(ctx context.Context, cfg *config.Config, st *store.Store, manager *mailsync.Manager, coordinator *mailsync.Coordinator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	if cfg.JWKSURL != "" && !cfg.AuthDisabled {
		verifier, err := httpauth.NewVerifier(ctx, cfg.JWKSURL)
		if err != nil {
			logrus.WithError(err).Fatal("Initializing JWT verifier failed")
		}
		api.Use(httpauth.Middleware(verifier))
	} else {
		logrus.Warn("Running without request authentication")
	}

	api.POST("/accounts", func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		acc := &domain.Account{
			ID:           uuid.NewString(),
			UserID:       callerUserID(c),
			EmailAddress: req.EmailAddress,
			Provider:     req.Provider,
			Connection: domain.ConnectionSettings{
				Host:   req.Host,
				Port:   req.Port,
				UseSSL: req.UseSSL,
			},
			Password:            req.Password,
			Active:              true,
			IncludeSent:         req.IncludeSent,
			IncludeDrafts:       req.IncludeDrafts,
			IncludeArchive:      req.IncludeArchive,
			SyncAttachments:     req.SyncAttachments,
			MaxAttachmentSizeMB: req.MaxAttachmentSizeMB,
			Sync:                domain.SyncState{Status: domain.SyncNotStarted},
			CreatedAt:           time.Now().UTC(),
		}
		if err := st.CreateAccount(c.Request.Context(), acc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, acc)
	})

	api.GET("/accounts", func(c *gin.Context) {
		accounts, err := st.GetAccountsByUser(c.Request.Context(), callerUserID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, accounts)
	})

	api.GET("/accounts/:id", func(c *gin.Context) {
		acc, err := st.GetAccountByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if acc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusOK, acc)
	})

	api.POST("/accounts/:id/sync", func(c *gin.Context) {
		var req startSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		accountID := c.Param("id")
		opts := mailsync.Options{
			ResumeFrom:          req.ResumeFrom,
			AttachmentsOverride: req.AttachmentsOverride,
		}
		if err := manager.StartSync(ctx, accountID, opts, nil); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"account_id": accountID, "status": domain.SyncInProgress})
	})

	api.DELETE("/accounts/:id/sync", func(c *gin.Context) {
		if err := manager.StopSync(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stopped": true})
	})

	api.GET("/sync/running", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"running": manager.RunningSyncs()})
	})

	api.POST("/sync/historical", func(c *gin.Context) {
		var req historicalSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.HistoryMonths == 0 {
			req.HistoryMonths = cfg.HistoryMonths
		}

		res, err := coordinator.SyncHistory(
			c.Request.Context(),
			callerUserID(c),
			mailsync.Settings{HistoryMonths: req.HistoryMonths},
			nil,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	return router
}

// callerUserID resolves the account owner for the request: the verified
// token subject, else an explicit header for unauthenticated setups.
func callerUserID(c *gin.Context) string {
	if identity := httpauth.CallerIdentity(c); identity != nil {
		return identity.UserID
	}
	return c.GetHeader("X-User-ID")
}
