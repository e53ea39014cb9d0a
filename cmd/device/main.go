package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
	"github.com/spf13/pflag"

	"github.com/mossy-p/webrtc-device/config"
	"github.com/mossy-p/webrtc-device/internal/bootstrap"
	"github.com/mossy-p/webrtc-device/internal/handlers"
	"github.com/mossy-p/webrtc-device/internal/media"
	"github.com/mossy-p/webrtc-device/internal/redis"
	"github.com/mossy-p/webrtc-device/internal/room"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile string
	var once bool

	flagSet := pflag.NewFlagSet("device", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "load environment variables from this file when it exists")
	flagSet.BoolVar(&once, "once", false, "exit when the room session ends instead of rejoining")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load configuration
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	if !cfg.HasRoom() && cfg.Ultravox.APIKey == "" {
		return errors.New("set LIVEKIT_URL and LIVEKIT_TOKEN, or ULTRAVOX_API_KEY to create a call")
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	log := loggerFactory.NewLogger("device")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := os.Hostname()
	if err != nil {
		device = "device"
	}

	var active atomic.Pointer[room.Room]

	if cfg.StatusPort != "" {
		if cfg.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		source := func() handlers.Controller {
			if r := active.Load(); r != nil {
				return r
			}
			return nil
		}
		status := handlers.NewStatus(device, source, loggerFactory)
		srv := &http.Server{
			Addr:    ":" + cfg.StatusPort,
			Handler: status.Router(cfg.AllowedOrigins, cfg.OperatorSecret),
		}

		go func() {
			log.Infof("Starting status API on port %s", cfg.StatusPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status API failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Redis.Host != "" {
		// Fleet reporting is best effort; the device still joins without it.
		reporter, err := redis.Connect(ctx, cfg.Redis, loggerFactory)
		if err != nil {
			log.Warnf("Status reporting disabled: %v", err)
		} else {
			defer reporter.Close()
			log.Info("Redis connection established")
			go reporter.Run(ctx, device, func() redis.SnapshotSource {
				if r := active.Load(); r != nil {
					return r
				}
				return nil
			})
		}
	}

	engines := media.NewPionFactory(media.PionConfig{
		ICEServers:    cfg.ICEServer,
		Video:         cfg.PublishVideo,
		LoggerFactory: loggerFactory,
	})

	for {
		err := join(ctx, cfg, engines, &active, loggerFactory)
		if ctx.Err() != nil {
			log.Info("Shutting down")
			return nil
		}
		log.Errorf("Room session ended: %v", err)
		if once {
			return err
		}

		select {
		case <-time.After(cfg.Timing.RejoinDelay):
			log.Info("Rejoining room")
		case <-ctx.Done():
			return nil
		}
	}
}

// join runs one room session to completion. Room credentials come from the
// configuration or, when absent, from a newly created call.
func join(ctx context.Context, cfg *config.Config, engines media.Factory, active *atomic.Pointer[room.Room], factory logging.LoggerFactory) error {
	roomURL, token := cfg.LiveKit.URL, cfg.LiveKit.Token
	if !cfg.HasRoom() {
		client, err := bootstrap.New(bootstrap.Config{
			APIURL:        cfg.Ultravox.APIURL,
			APIKey:        cfg.Ultravox.APIKey,
			LoggerFactory: factory,
		})
		if err != nil {
			return err
		}
		info, err := client.Join(ctx, bootstrap.CallRequest{
			SystemPrompt: cfg.Ultravox.SystemPrompt,
			Voice:        cfg.Ultravox.Voice,
		})
		if err != nil {
			return fmt.Errorf("bootstrap call: %w", err)
		}
		roomURL, token = info.RoomURL, info.Token
	}

	r, err := room.New(room.Config{
		RoomURL:                roomURL,
		Token:                  token,
		ProtocolVersion:        cfg.LiveKit.ProtocolVersion,
		TrackName:              cfg.LiveKit.TrackName,
		SignalingInterval:      cfg.Timing.SignalingInterval,
		SubscriberPumpInterval: cfg.Timing.SubscriberPumpInterval,
		PublisherPumpInterval:  cfg.Timing.PublisherPumpInterval,
		NewEngine:              engines,
		LoggerFactory:          factory,
	})
	if err != nil {
		return err
	}

	active.Store(r)
	defer active.Store(nil)
	return r.Run(ctx)
}
