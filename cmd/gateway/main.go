// Command gateway is the composition root wiring every package into a
// running Framer, generalized from the teacher's cmd/main.go App struct:
// same init-order discipline (backing stores before services, services
// before the network listener), same signal-based graceful shutdown,
// but driving a single-threaded DoWork loop instead of a goroutine-per-
// connection TCP server.
package main

import (
	"encoding/binary"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"ilink3gw/clock"
	"ilink3gw/config"
	"ilink3gw/endpoints"
	"ilink3gw/framer"
	"ilink3gw/gatewaysessions"
	"ilink3gw/gwerrors"
	"ilink3gw/idstrategy"
	"ilink3gw/idstrategy/memallocator"
	"ilink3gw/idstrategy/redisallocator"
	"ilink3gw/libraryreg"
	"ilink3gw/pubsublog/ring"
	"ilink3gw/retrymgr"
	"ilink3gw/seqindex"
	"ilink3gw/seqindex/memindex"
	"ilink3gw/seqindex/redisindex"
)

func main() {
	bindAddr := flag.String("addr", "", "listen address, overrides the built-in default when set")
	redisAddr := flag.String("redis", "", "Redis address; when empty the gateway keeps sequence/session state in memory")
	hmacSecret := flag.String("hmac-secret", "", "base64url HMAC secret for ILink3 session signing")
	libraryIDFlag := flag.Int("library-id", 0, "statically pre-register a single library under this id (0 disables)")
	libraryReplyTimeoutMs := flag.Int64("library-reply-timeout-ms", 5000, "liveness timeout for registered libraries")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "gateway", Level: hclog.Info})

	cfg := config.Default()
	if *bindAddr != "" {
		cfg.BindAddress = *bindAddr
	}
	cfg.HMACSecretBase64URL = *hmacSecret

	sysClock := clock.System{}

	var sentIdx seqindex.SentIndex
	var recvIdx seqindex.ReceivedIndex
	var idAlloc idstrategy.Allocator

	if *redisAddr != "" {
		logger.Info("using Redis-backed sequence index and id allocator", "addr", *redisAddr)
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		sentIdx = redisindex.New(rdb)
		recvIdx = redisindex.New(rdb)
		idAlloc = redisallocator.New(rdb)
	} else {
		logger.Info("using in-memory sequence index and id allocator")
		mem := memindex.New()
		sentIdx = mem
		recvIdx = mem
		idAlloc = memallocator.New()
	}

	libraries := libraryreg.New(sysClock, *libraryReplyTimeoutMs, nil)
	if *libraryIDFlag != 0 {
		if _, err := libraries.Register(libraryreg.LibraryID(*libraryIDFlag), 0); err != nil {
			logger.Error("failed to pre-register static library", "id", *libraryIDFlag, "error", err)
			os.Exit(1)
		}
	}

	inboundLog, err := ring.New(4096)
	if err != nil {
		logger.Error("failed to construct inbound log", "error", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		logger.Error("failed to bind listener", "addr", cfg.BindAddress, "error", err)
		os.Exit(1)
	}
	defer listener.Close()

	fr := framer.New(cfg, framer.Deps{
		Clock:       sysClock,
		Logger:      logger.Named("framer"),
		Listener:    &pollingListener{tcp: listener.(*net.TCPListener)},
		Retry:       retrymgr.NewManager(),
		Endpoints:   endpoints.NewTable(),
		Libraries:   libraries,
		GatewayPool: gatewaysessions.NewPool(),
		SentIndex:   sentIdx,
		RecvIndex:   recvIdx,
		IDAllocator: idAlloc,
		InboundLog:  inboundLog,
		OnError: func(err *gwerrors.GatewayError) {
			logger.Warn("gateway error", "kind", err.Kind, "message", err.Message)
		},
		NextConnectionIDSeed: randomSeed(),
	})

	logger.Info("gateway listening", "addr", cfg.BindAddress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	idle := cfg.FramerIdleStrategy
loop:
	for {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
			break loop
		default:
		}
		nowMs := sysClock.NowMillis()
		if work := fr.DoWork(nowMs); work == 0 {
			idle.Idle()
		}
	}

	logger.Info("gateway stopped")
}

// randomSeed mints the high-entropy connection-id seed spec.md §3
// requires from a fresh random UUID's leading bytes.
func randomSeed() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// pollingListener adapts a *net.TCPListener into framer.Listener's
// non-blocking contract by giving every Accept a short deadline instead
// of letting it block the cooperative worker, matching the "non-
// blocking select_now on the listening socket" semantics the Listener
// interface documents.
type pollingListener struct {
	tcp *net.TCPListener
}

func (l *pollingListener) Accept() (net.Conn, error) {
	if err := l.tcp.SetDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, err
	}
	return l.tcp.Accept()
}
