package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AmirulAndalib/ockam/internal/channel"
	"github.com/AmirulAndalib/ockam/internal/config"
	"github.com/AmirulAndalib/ockam/internal/identity"
	"github.com/AmirulAndalib/ockam/internal/keystore"
	"github.com/AmirulAndalib/ockam/internal/logging"
	"github.com/AmirulAndalib/ockam/internal/node"
	"github.com/AmirulAndalib/ockam/internal/state"
	"github.com/AmirulAndalib/ockam/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	passphrase, err := cfg.Passphrase()
	if err != nil {
		logger.Fatal("keystore passphrase unavailable", zap.Error(err))
	}

	backend := keystore.NewFileBackend(cfg.Keystore.Path)
	initOrUnlockKeystore(logger, backend, passphrase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret, err := identity.Ensure(ctx, backend)
	if err != nil {
		logger.Fatal("establish node identity", zap.Error(err))
	}
	logger.Info("node identity ready", zap.String("identifier", secret.Identifier.String()))

	purposeKey, err := ensurePurposeKey(ctx, secret, backend, cfg.Channel.PurposeKeyTTL)
	if err != nil {
		logger.Fatal("establish purpose key", zap.Error(err))
	}

	store, err := state.Open(cfg.State.DatabasePath, logger)
	if err != nil {
		logger.Fatal("open state database", zap.Error(err))
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	nodeMetrics := node.NewMetrics(reg)
	channelMetrics := channel.NewMetrics(reg)

	debugger := node.Instance()
	runtime := node.NewNode(logger, nodeMetrics, debugger)

	echoAddr := node.Address("echo")
	if _, err := runtime.StartWorker(node.PrimaryMailboxes(echoAddr), echoHandler(logger),
		node.WorkerOptions{MailboxSize: cfg.Channel.MailboxSize}); err != nil {
		logger.Fatal("start echo worker", zap.Error(err))
	}

	startResponders(runtime, cfg, logger, channelMetrics, secret, purposeKey, echoAddr)

	tcp := transport.New(logger, runtime.Router())
	boundAddr, err := tcp.Listen(cfg.TCPAddress)
	if err != nil {
		logger.Fatal("start transport", zap.Error(err))
	}

	if err := recordNodeState(ctx, store, cfg.NodeName, secret.Identifier, boundAddr.String(), cfg.Keystore.Path); err != nil {
		logger.Fatal("record node state", zap.Error(err))
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddress, reg, debugger, logger)

	watcher := startConfigWatcher(ctx, *configPath, level, logger)

	logger.Info("node started",
		zap.String("name", cfg.NodeName),
		zap.String("tcp_address", boundAddr.String()),
		zap.String("metrics_address", cfg.MetricsAddress))

	<-ctx.Done()
	logger.Info("shutting down", zap.Duration("grace_period", cfg.ShutdownGracePeriod))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if watcher != nil {
		watcher.Stop()
	}
	tcp.Close()
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workers did not drain in time", zap.Error(err))
	}
	metricsSrv.Shutdown(shutdownCtx)

	if err := store.SetNodePID(context.Background(), cfg.NodeName, 0); err != nil {
		logger.Warn("clear node pid", zap.Error(err))
	}
	debugger.LogSummary(logger)
}

func initOrUnlockKeystore(log *zap.Logger, backend keystore.KeyBackend, passphrase string) {
	ctx := context.Background()
	if err := backend.Unlock(ctx, passphrase); err != nil {
		if errors.Is(err, keystore.ErrNotInitialized) {
			if err := backend.Initialize(ctx, passphrase); err != nil {
				log.Fatal("initialize keystore", zap.Error(err))
			}
			log.Info("initialized new keystore")
			return
		}
		log.Fatal("unlock keystore", zap.Error(err))
		return
	}
	log.Info("keystore unlocked")
}

// ensurePurposeKey loads the node's secure-channel purpose key, reissuing it
// when absent or no longer valid for at least half its TTL.
func ensurePurposeKey(ctx context.Context, secret *identity.SecretIdentity, backend keystore.KeyBackend, ttl time.Duration) (*identity.PurposeKeyPair, error) {
	keys := identity.NewKeystorePurposeKeys(backend)

	pair, err := keys.LoadPurposeKey(ctx, secret.Identifier, identity.PurposeSecureChannel)
	if err == nil {
		verifyErr := pair.Verify(secret.Identity, identity.PurposeSecureChannel, time.Now().Add(ttl/2))
		if verifyErr == nil {
			return pair, nil
		}
	} else if !errors.Is(err, identity.ErrKeyUnavailable) {
		return nil, err
	}

	pair, err = identity.CreatePurposeKey(secret, identity.PurposeSecureChannel, ttl)
	if err != nil {
		return nil, err
	}
	if err := keys.StorePurposeKey(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// startResponders spawns one responder secure-channel worker per trusted
// peer key, each delivering plaintext to the echo worker.
func startResponders(runtime *node.Node, cfg config.Config, log *zap.Logger, metrics *channel.Metrics, secret *identity.SecretIdentity, purposeKey *identity.PurposeKeyPair, appRoute node.Address) {
	for _, encoded := range cfg.Channel.TrustedPeerKeys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			log.Warn("skipping malformed trusted peer key", zap.String("key", encoded))
			continue
		}
		peer := identity.NewIdentity(ed25519.PublicKey(raw))

		worker, err := channel.NewWorker(channel.WorkerConfig{
			Role:          channel.RoleResponder,
			LocalIdentity: secret.Identity,
			LocalKey:      purposeKey,
			PeerIdentity:  peer,
			AppRoute:      appRoute,
			Logger:        log,
			Metrics:       metrics,
		})
		if err != nil {
			log.Warn("build responder for peer", zap.String("peer", peer.Identifier.String()), zap.Error(err))
			continue
		}
		if _, err := runtime.StartWorker(worker.Mailboxes(), worker,
			node.WorkerOptions{MailboxSize: cfg.Channel.MailboxSize}); err != nil {
			log.Warn("start responder for peer", zap.String("peer", peer.Identifier.String()), zap.Error(err))
			continue
		}
		log.Info("secure channel responder ready",
			zap.String("peer", peer.Identifier.String()),
			zap.String("encrypted_address", worker.EncryptedAddress().String()))
	}
}

// recordNodeState registers this node and its vault in the configuration
// database, marking them default when no default exists yet.
func recordNodeState(ctx context.Context, store *state.Store, name string, id identity.Identifier, tcpAddress, vaultPath string) error {
	if err := store.StoreNode(ctx, &state.NodeInfo{
		Name:               name,
		Identifier:         id,
		TCPListenerAddress: tcpAddress,
		PID:                os.Getpid(),
	}); err != nil {
		return err
	}
	if _, err := store.GetDefaultNode(ctx); errors.Is(err, state.ErrNotFound) {
		if err := store.SetDefaultNode(ctx, name); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return store.StoreVault(ctx, &state.Vault{Name: name, Path: vaultPath})
}

func startMetricsServer(address string, reg *prometheus.Registry, debugger *node.Debugger, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/topology", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		if err := debugger.WriteGraph(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	srv := &http.Server{Addr: address, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server exited", zap.Error(err))
		}
	}()
	return srv
}

// startConfigWatcher follows the config file, applying log level changes
// without a restart. Without a config file there is nothing to watch.
func startConfigWatcher(ctx context.Context, path string, level zap.AtomicLevel, log *zap.Logger) *config.Watcher {
	if path == "" {
		return nil
	}
	watcher, err := config.NewWatcher(path, log)
	if err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}
	watcher.OnChange(func(cfg config.Config) {
		parsed, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Warn("ignoring invalid log level", zap.String("level", cfg.LogLevel))
			return
		}
		level.SetLevel(parsed.Level())
		log.Info("log level updated", zap.String("level", cfg.LogLevel))
	})
	watcher.Start(ctx)
	return watcher
}

// echoHandler replies to every message with the same payload, giving peers
// a loopback target for channel verification.
func echoHandler(log *zap.Logger) node.Handler {
	return node.HandlerFunc(func(ctx *node.Context, msg *node.RelayMessage) error {
		log.Debug("echo",
			zap.String("source", msg.Source().String()),
			zap.Int("bytes", len(msg.Payload())))
		return ctx.Send(ctx.Address(), msg.Source(), msg.Payload())
	})
}
